// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
)

// entry is a refcounted registry slot. Go has no weak references, so the
// registry keeps every live value behind an explicit count instead: Acquire
// increments it, Release decrements it and evicts the slot at zero. This is
// the explicit-refcount translation the design calls for in a target
// language without native weak pointers.
type entry[T any] struct {
	value T
	refs  int32
}

// Registry is a path-keyed table of refcounted values, shared by every open
// connection against the same path. Mutations are serialized by mu; reads
// of the map itself (Len, Paths) go through an atomic.Value so
// diagnostics code can range over a consistent view without blocking
// connection handling, the same lock-free-read-over-mutex-guarded-write
// shape the coordinator's own in-memory state follows elsewhere.
type Registry[T any] struct {
	mu       sync.Mutex
	snapshot atomic.Value // *immutable.SortedMap[string, *entry[T]]
	newValue func() T
}

// NewRegistry builds an empty registry. newValue constructs a fresh value
// for a path that has no entry: one never seen, or one whose entry was
// evicted when its refcount reached zero.
func NewRegistry[T any](newValue func() T) *Registry[T] {
	r := &Registry[T]{newValue: newValue}
	r.snapshot.Store(immutable.NewSortedMap[string, *entry[T]](nil))
	return r
}

func (r *Registry[T]) load() *immutable.SortedMap[string, *entry[T]] {
	return r.snapshot.Load().(*immutable.SortedMap[string, *entry[T]])
}

// Acquire returns the value registered for path, creating and installing a
// fresh one if none exists, and increments its refcount. fresh reports
// whether this call created the value.
func (r *Registry[T]) Acquire(path string) (value T, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.load()
	e, ok := m.Get(path)
	if !ok {
		e = &entry[T]{value: r.newValue()}
		r.snapshot.Store(m.Set(path, e))
		fresh = true
	}
	e.refs++
	return e.value, fresh
}

// Release decrements path's refcount, evicting the entry once it reaches
// zero.
func (r *Registry[T]) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.load()
	e, ok := m.Get(path)
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		r.snapshot.Store(m.Delete(path))
	}
}

// Len returns a point-in-time count of live registry entries, safe to call
// concurrently with Acquire/Release.
func (r *Registry[T]) Len() int {
	return r.load().Len()
}

// Paths returns a snapshot of the currently registered paths, for
// diagnostics.
func (r *Registry[T]) Paths() []string {
	m := r.load()
	out := make([]string, 0, m.Len())
	it := m.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		out = append(out, k)
	}
	return out
}
