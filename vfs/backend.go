// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package vfs adapts a pluggable Backend onto SQLite's virtual file system
// contract. Backend and File are the seam the rest of this module is built
// around: backend/mem, backend/localfs and backend/remote each implement
// them against a different storage mechanism, and this package turns that
// implementation into the method set SQLite actually calls through.
package vfs

import "github.com/dreamsxin/sqlitevfs/wire"

// Backend opens database paths. It is the moral equivalent of the
// coordinator's own entry point, but callable in-process: backend/remote
// implements it by dialing a coordinator, backend/mem and backend/localfs
// implement it without one.
type Backend interface {
	// Open opens path under access, returning a File ready for use.
	Open(path string, access wire.OpenAccess) (File, error)
	// Delete removes path. A missing path is not an error.
	Delete(path string) error
	// Exists reports whether path currently refers to a regular file.
	Exists(path string) (bool, error)
	// Access reports whether path can be accessed; if write is true, it
	// reports writability rather than mere presence.
	Access(path string, write bool) (bool, error)
	// TemporaryName returns a path suitable for a private, unshared
	// temporary file (a sort spill file or a statement journal).
	TemporaryName() (string, error)
}

// File is one opened database path: positional I/O, the five-level file
// lock, and the WAL-index shared-memory region operations a WAL-mode
// connection needs.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Size() (int64, error)
	Truncate(size int64) error

	// Reserved reports whether any connection holds Reserved or higher.
	Reserved() (bool, error)
	// Lock requests lock and reports whether it was granted. A refusal
	// leaves the held lock unchanged. The level held afterward is reported
	// by CurrentLock and may differ from lock (for example Pending when
	// Exclusive was requested while other readers remain).
	Lock(lock wire.Lock) (granted bool, err error)
	// Unlock drops to lock, at or below the file's current level.
	Unlock(lock wire.Lock) error
	// CurrentLock reports the lock level this File currently holds.
	CurrentLock() wire.Lock

	GetWalIndex(region uint32) ([wire.WalRegionSize]byte, error)
	PutWalIndex(region uint32, data [wire.WalRegionSize]byte) error
	LockWalIndex(start, end uint8, lock wire.WalIndexLock) (granted bool, err error)
	DeleteWalIndex() error

	// Moved reports whether the path this File was opened against now
	// refers to a different underlying file.
	Moved() (bool, error)

	Close() error
}
