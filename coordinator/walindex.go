// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"fmt"
	"sync"

	"github.com/dreamsxin/sqlitevfs/wire"
)

type regionLockKind int

const (
	regionShared regionLockKind = iota
	regionExclusive
)

// regionLock is a WAL-index region's lock state. The zero value is
// Shared{0}, which is the documented default for a region nobody has
// touched yet.
type regionLock struct {
	kind  regionLockKind
	count uint32
}

func (r regionLock) String() string {
	if r.kind == regionExclusive {
		return "Exclusive"
	}
	return fmt.Sprintf("Shared{%d}", r.count)
}

// InvalidWalIndexTransitionError reports a LockWalIndex request that the
// region transition table refuses for at least one region in the band.
type InvalidWalIndexTransitionError struct {
	Region uint8
	State  regionLock
	From   wire.WalIndexLock
	To     wire.WalIndexLock
}

func (e *InvalidWalIndexTransitionError) Error() string {
	return fmt.Sprintf("coordinator: invalid wal-index transition on region %d (state %s): %s -> %s",
		e.Region, e.State, e.From, e.To)
}

// WalIndex is the authoritative WAL-index state for one database path:
// lazily materialized 32 KiB region blocks plus their banded lock state.
type WalIndex struct {
	mu      sync.Mutex
	regions map[uint32]*[wire.WalRegionSize]byte
	locks   map[uint8]regionLock
}

// NewWalIndex returns an empty WAL-index with no materialized regions and
// every region lock defaulted to Shared{0}.
func NewWalIndex() *WalIndex {
	return &WalIndex{
		regions: make(map[uint32]*[wire.WalRegionSize]byte),
		locks:   make(map[uint8]regionLock),
	}
}

// Get returns a copy of region, materializing it to all-zero on first
// access.
func (w *WalIndex) Get(region uint32) [wire.WalRegionSize]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	block := w.materializeLocked(region)
	return *block
}

// Put stores data as the contents of region, materializing it if absent.
func (w *WalIndex) Put(region uint32, data [wire.WalRegionSize]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	block := w.materializeLocked(region)
	*block = data
}

func (w *WalIndex) materializeLocked(region uint32) *[wire.WalRegionSize]byte {
	block, ok := w.regions[region]
	if !ok {
		block = &[wire.WalRegionSize]byte{}
		w.regions[region] = block
	}
	return block
}

// MaxRegion reports the highest region index ever materialized and whether
// any region exists at all, used to size the "-shm" sibling file.
func (w *WalIndex) MaxRegion() (max uint32, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for region := range w.regions {
		if !ok || region > max {
			max, ok = region, true
		}
	}
	return max, ok
}

// Delete clears both the region blocks and the lock state, as performed by
// DeleteWalIndex and by a fresh-open reset.
func (w *WalIndex) Delete() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.regions = make(map[uint32]*[wire.WalRegionSize]byte)
	w.locks = make(map[uint8]regionLock)
}

func (w *WalIndex) regionLockLocked(idx uint8) regionLock {
	if rl, ok := w.locks[idx]; ok {
		return rl
	}
	return regionLock{kind: regionShared, count: 0}
}

// LockBand attempts to move every region in [start, end) from this
// connection's recorded view (conn) to target, all-or-nothing. On success,
// it mutates both the WalIndex's region lock state and conn for every
// region touched, and returns true. On refusal, it mutates nothing and
// returns false along with the first offending region's error.
func (w *WalIndex) LockBand(start, end uint8, conn map[uint8]wire.WalIndexLock, target wire.WalIndexLock) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	type planned struct{ kind regionLockKind; count uint32 }
	plan := make(map[uint8]planned, int(end)-int(start))

	for idx := int(start); idx < int(end); idx++ {
		region := uint8(idx)
		from := conn[region]
		cur := w.regionLockLocked(region)
		kind, count, ok := regionLockTransition(cur.kind, cur.count, from, target)
		if !ok {
			return false, &InvalidWalIndexTransitionError{Region: region, State: cur, From: from, To: target}
		}
		plan[region] = planned{kind, count}
	}

	for region, p := range plan {
		w.locks[region] = regionLock{kind: p.kind, count: p.count}
		conn[region] = target
	}
	return true, nil
}

// ReleaseBand releases every region this connection holds a non-None view
// over, used on connection drop (see the coordinator's Open Question
// decision to release WAL-index locks on drop, mirroring path-lock
// cleanup).
func (w *WalIndex) ReleaseBand(conn map[uint8]wire.WalIndexLock) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for region, from := range conn {
		if from == wire.WalIndexLockNone {
			continue
		}
		cur := w.regionLockLocked(region)
		kind, count, ok := regionLockTransition(cur.kind, cur.count, from, wire.WalIndexLockNone)
		if !ok {
			// The connection's recorded view and the region's own state
			// have diverged; nothing more can be done for this region at
			// drop time.
			continue
		}
		w.locks[region] = regionLock{kind: kind, count: count}
		conn[region] = wire.WalIndexLockNone
	}
}

// regionLockTransition implements the WAL-index region transition table.
func regionLockTransition(kind regionLockKind, count uint32, from, to wire.WalIndexLock) (regionLockKind, uint32, bool) {
	if from == to {
		return kind, count, true
	}

	switch {
	case kind == regionShared && from == wire.WalIndexLockNone && to == wire.WalIndexLockShared:
		return regionShared, count + 1, true

	case kind == regionShared && count == 0 && from == wire.WalIndexLockNone && to == wire.WalIndexLockExclusive:
		return regionExclusive, 0, true

	case kind == regionShared && count > 0 && from == wire.WalIndexLockNone && to == wire.WalIndexLockExclusive:
		return kind, count, false

	case kind == regionShared && from == wire.WalIndexLockShared && to == wire.WalIndexLockNone:
		if count > 0 {
			count--
		}
		return regionShared, count, true

	case kind == regionShared && count == 1 && from == wire.WalIndexLockShared && to == wire.WalIndexLockExclusive:
		return regionExclusive, 0, true

	case kind == regionShared && count != 1 && from == wire.WalIndexLockShared && to == wire.WalIndexLockExclusive:
		return kind, count, false

	case kind == regionExclusive && from == wire.WalIndexLockExclusive && to == wire.WalIndexLockNone:
		return regionShared, 0, true

	case kind == regionExclusive && from == wire.WalIndexLockExclusive && to == wire.WalIndexLockShared:
		return regionShared, 1, true

	default:
		return kind, count, false
	}
}
