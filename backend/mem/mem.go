// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package mem is an in-process Backend with no coordinator and no disk:
// every database lives only as long as the process does, useful for tests
// and for the sort/statement-journal temp files a read-only remote backend
// still needs somewhere to put.
package mem

import (
	"fmt"
	"io"
	"sync"

	"github.com/dreamsxin/sqlitevfs/coordinator"
	"github.com/dreamsxin/sqlitevfs/vfs"
	"github.com/dreamsxin/sqlitevfs/wire"
)

// Backend is a registry of named in-memory databases, each guarded by the
// same path-lock and WAL-index state machines the coordinator runs, so a
// single process opening a path twice observes the same locking semantics
// a remote backend would enforce.
type Backend struct {
	mu        sync.Mutex
	files     map[string]*fileData
	pathLocks *coordinator.Registry[*coordinator.PathLock]
	walIdx    *coordinator.Registry[*coordinator.WalIndex]
	tmpSeq    int
}

type fileData struct {
	mu   sync.RWMutex
	data []byte
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		files:     make(map[string]*fileData),
		pathLocks: coordinator.NewRegistry(func() *coordinator.PathLock { return coordinator.NewPathLock() }),
		walIdx:    coordinator.NewRegistry(func() *coordinator.WalIndex { return coordinator.NewWalIndex() }),
	}
}

func (b *Backend) Open(path string, access wire.OpenAccess) (vfs.File, error) {
	b.mu.Lock()
	fd, ok := b.files[path]
	if !ok {
		if access != wire.AccessCreate && access != wire.AccessCreateNew {
			b.mu.Unlock()
			return nil, fmt.Errorf("mem: %q does not exist", path)
		}
		fd = &fileData{}
		b.files[path] = fd
	} else if access == wire.AccessCreateNew {
		b.mu.Unlock()
		return nil, fmt.Errorf("mem: %q already exists", path)
	}
	b.mu.Unlock()

	pathLock, _ := b.pathLocks.Acquire(path)
	walIndex, _ := b.walIdx.Acquire(path)

	return &file{backend: b, path: path, data: fd, pathLock: pathLock, walIndex: walIndex}, nil
}

func (b *Backend) Delete(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	return nil
}

func (b *Backend) Exists(path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[path]
	return ok, nil
}

func (b *Backend) Access(path string, write bool) (bool, error) {
	return b.Exists(path)
}

func (b *Backend) TemporaryName() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tmpSeq++
	return fmt.Sprintf("/tmp/mem-%d", b.tmpSeq), nil
}

type file struct {
	backend  *Backend
	path     string
	data     *fileData
	pathLock *coordinator.PathLock
	walIndex *coordinator.WalIndex

	lock    wire.Lock
	walLock map[uint8]wire.WalIndexLock
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.data.mu.RLock()
	defer f.data.mu.RUnlock()
	if off >= int64(len(f.data.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.data.data)) {
		grown := make([]byte, end)
		copy(grown, f.data.data)
		f.data.data = grown
	}
	return copy(f.data.data[off:end], p), nil
}

func (f *file) Sync() error { return nil }

func (f *file) Size() (int64, error) {
	f.data.mu.RLock()
	defer f.data.mu.RUnlock()
	return int64(len(f.data.data)), nil
}

func (f *file) Truncate(size int64) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if size <= int64(len(f.data.data)) {
		f.data.data = f.data.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data.data)
	f.data.data = grown
	return nil
}

func (f *file) Reserved() (bool, error) {
	return f.pathLock.Reserved(), nil
}

func (f *file) Lock(lock wire.Lock) (bool, error) {
	newLock, err := f.pathLock.Transition(f.lock, lock)
	if err != nil {
		return false, nil
	}
	f.lock = newLock
	return true, nil
}

func (f *file) Unlock(lock wire.Lock) error {
	_, err := f.pathLock.Transition(f.lock, lock)
	if err != nil {
		return err
	}
	f.lock = lock
	return nil
}

func (f *file) CurrentLock() wire.Lock { return f.lock }

func (f *file) GetWalIndex(region uint32) ([wire.WalRegionSize]byte, error) {
	return f.walIndex.Get(region), nil
}

func (f *file) PutWalIndex(region uint32, data [wire.WalRegionSize]byte) error {
	f.walIndex.Put(region, data)
	return nil
}

func (f *file) LockWalIndex(start, end uint8, lock wire.WalIndexLock) (bool, error) {
	if f.walLock == nil {
		f.walLock = make(map[uint8]wire.WalIndexLock)
	}
	ok, err := f.walIndex.LockBand(start, end, f.walLock, lock)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

func (f *file) DeleteWalIndex() error {
	f.walIndex.Delete()
	return nil
}

func (f *file) Moved() (bool, error) {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	_, ok := f.backend.files[f.path]
	return !ok || f.backend.files[f.path] != f.data, nil
}

func (f *file) Close() error {
	f.pathLock.Release(f.lock)
	f.walIndex.ReleaseBand(f.walLock)
	f.backend.pathLocks.Release(f.path)
	f.backend.walIdx.Release(f.path)
	return nil
}
