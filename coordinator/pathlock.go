// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"fmt"
	"sync"

	"github.com/dreamsxin/sqlitevfs/wire"
)

// pathLockKind is the server-side path lock state, independent of how many
// connections observe it from Shared.
type pathLockKind int

const (
	lockRead pathLockKind = iota
	lockReserved
	lockPending
	lockExclusive
)

func (k pathLockKind) String() string {
	switch k {
	case lockRead:
		return "Read"
	case lockReserved:
		return "Reserved"
	case lockPending:
		return "Pending"
	case lockExclusive:
		return "Exclusive"
	default:
		return "Invalid"
	}
}

// InvalidLockTransitionError reports a Lock request that has no entry in
// the path-lock transition table for the path's current state.
type InvalidLockTransitionError struct {
	State string
	From  wire.Lock
	To    wire.Lock
}

func (e *InvalidLockTransitionError) Error() string {
	return fmt.Sprintf("coordinator: invalid lock transition on state %s: %s -> %s", e.State, e.From, e.To)
}

// PathLock is the authoritative five-level lock state for one database
// path, shared by every connection currently holding a reference to it.
type PathLock struct {
	mu    sync.Mutex
	kind  pathLockKind
	count uint32
}

// NewPathLock returns a fresh Read{0} lock state, the starting state for a
// newly opened or just-reset path.
func NewPathLock() *PathLock {
	return &PathLock{kind: lockRead, count: 0}
}

// Transition attempts to move the path lock state given a connection's
// current lock (from) and the lock it is requesting (to). On success it
// returns the connection's new lock; on refusal it returns an error and
// leaves state unchanged.
func (p *PathLock) Transition(from, to wire.Lock) (wire.Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kind, count, connLock, ok := pathLockTransition(p.kind, p.count, from, to)
	if !ok {
		return wire.LockNone, &InvalidLockTransitionError{
			State: fmt.Sprintf("%s{%d}", p.kind, p.count),
			From:  from,
			To:    to,
		}
	}
	p.kind, p.count = kind, count
	return connLock, nil
}

// Reset clears the path lock back to Read{0} in place, so every connection
// currently sharing this *PathLock observes the same fresh state. Used when
// a path is reopened after its backing file disappeared out from under a
// live registry entry.
func (p *PathLock) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind, p.count = lockRead, 0
}

// Reserved reports whether the path lock state is Reserved, Pending or
// Exclusive.
func (p *PathLock) Reserved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind != lockRead
}

// Release synthesizes a from -> None transition, used on connection drop.
// A from of None is a no-op.
func (p *PathLock) Release(from wire.Lock) {
	if from == wire.LockNone {
		return
	}
	// The drop path must always succeed: it is restoring state to one the
	// connection is known to have reached, so any refusal here is a bug in
	// the state machine rather than a condition the caller can act on.
	if _, err := p.Transition(from, wire.LockNone); err != nil {
		panic(fmt.Sprintf("coordinator: releasing a held lock must never be refused: %v", err))
	}
}

// String describes the current state, e.g. for logging and the registry
// diagnostics gauge.
func (p *PathLock) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s{%d}", p.kind, p.count)
}

// pathLockTransition implements the table in the path-lock state machine
// section: given the path's current kind/count and a connection's from/to
// request, it returns the new kind/count, the connection's new lock, and
// whether the transition is permitted.
func pathLockTransition(kind pathLockKind, count uint32, from, to wire.Lock) (pathLockKind, uint32, wire.Lock, bool) {
	switch {
	case (kind == lockRead || kind == lockReserved) && from == wire.LockNone && to == wire.LockShared:
		return kind, count + 1, wire.LockShared, true

	case (kind == lockPending || kind == lockExclusive) && from == wire.LockNone && to == wire.LockShared:
		return kind, count, wire.LockNone, false

	case (kind == lockRead || kind == lockReserved || kind == lockPending) && from == wire.LockShared && to == wire.LockNone:
		return kind, count - 1, wire.LockNone, true

	case kind == lockRead && from == wire.LockShared && to == wire.LockReserved:
		return lockReserved, count - 1, wire.LockReserved, true

	case kind == lockReserved && from == wire.LockReserved && to == wire.LockShared:
		return lockRead, count + 1, wire.LockShared, true

	case kind == lockPending && from == wire.LockPending && to == wire.LockShared:
		return lockRead, count + 1, wire.LockShared, true

	case kind == lockReserved && from == wire.LockReserved && to == wire.LockNone:
		return lockRead, count, wire.LockNone, true

	case kind == lockPending && from == wire.LockPending && to == wire.LockNone:
		return lockRead, count, wire.LockNone, true

	case (kind == lockReserved || kind == lockPending || kind == lockExclusive) &&
		from == wire.LockShared && (to == wire.LockReserved || to == wire.LockExclusive):
		return kind, count, wire.LockNone, false

	case kind == lockRead && count == 1 && from == wire.LockShared && to == wire.LockExclusive:
		return lockExclusive, 0, wire.LockExclusive, true

	case kind == lockRead && count > 1 && from == wire.LockShared && to == wire.LockExclusive:
		return lockPending, count - 1, wire.LockPending, true

	case (kind == lockReserved || kind == lockPending) && count == 0 &&
		(from == wire.LockReserved || from == wire.LockPending) && to == wire.LockExclusive:
		return lockExclusive, 0, wire.LockExclusive, true

	case (kind == lockReserved || kind == lockPending) && count > 0 &&
		(from == wire.LockReserved || from == wire.LockPending) && to == wire.LockExclusive:
		return lockPending, count, wire.LockPending, true

	case kind == lockExclusive && from == wire.LockExclusive && to == wire.LockShared:
		return lockRead, 1, wire.LockShared, true

	case kind == lockExclusive && from == wire.LockExclusive && to == wire.LockNone:
		return lockRead, 0, wire.LockNone, true

	default:
		return kind, count, wire.LockNone, false
	}
}
