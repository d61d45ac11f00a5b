// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package vfs

import (
	"sync"

	"github.com/ncruces/go-sqlite3"
	sqlitevfs "github.com/ncruces/go-sqlite3/vfs"

	"github.com/dreamsxin/sqlitevfs/wire"
)

// Register installs name as a registered SQLite VFS backed by b. Database
// connections opened with `?vfs=name` in their DSN are then served by b.
func Register(name string, b Backend) {
	sqlitevfs.Register(name, &adapter{backend: b})
}

// adapter is the sqlitevfs.VFS implementation that forwards every call to
// a Backend, translating between SQLite's flag/lock vocabulary and the
// wire protocol's.
type adapter struct {
	backend Backend
}

var _ sqlitevfs.VFS = (*adapter)(nil)

// Open parses flags into access/delete-on-close the way spec.md's open()
// method-table entry does, synthesizes a name for anonymous temp files via
// Backend.TemporaryName, and retries once as read-only when a non-read open
// fails (the permission-denied fallback spec.md requires).
func (a *adapter) Open(name string, flags sqlitevfs.OpenFlag) (sqlitevfs.File, sqlitevfs.OpenFlag, error) {
	deleteOnClose := flags&sqlitevfs.OPEN_DELETEONCLOSE != 0
	if name == "" {
		if !deleteOnClose {
			return nil, flags, sqlite3.CANTOPEN
		}
		tmp, err := a.backend.TemporaryName()
		if err != nil {
			return nil, flags, sqlite3.CANTOPEN
		}
		name = tmp
	}

	access := openAccessFromFlags(flags)
	f, err := a.backend.Open(name, access)
	if err != nil {
		if access == wire.AccessRead {
			return nil, flags, sqlite3.CANTOPEN
		}
		f, err = a.backend.Open(name, wire.AccessRead)
		if err != nil {
			return nil, flags, sqlite3.CANTOPEN
		}
		flags = flags&^(sqlitevfs.OPEN_READWRITE) | sqlitevfs.OPEN_READONLY
	}

	return &vfsFile{
		file:          f,
		backend:       a.backend,
		path:          name,
		readOnly:      flags&sqlitevfs.OPEN_READONLY != 0,
		deleteOnClose: deleteOnClose,
	}, flags, nil
}

func (a *adapter) Delete(name string, dirSync bool) error {
	if err := a.backend.Delete(name); err != nil {
		return sqlite3.IOERR_DELETE
	}
	return nil
}

func (a *adapter) Access(name string, flag sqlitevfs.AccessFlag) (bool, error) {
	switch flag {
	case sqlitevfs.ACCESS_EXISTS:
		return a.backend.Exists(name)
	default:
		return a.backend.Access(name, flag == sqlitevfs.ACCESS_READWRITE)
	}
}

func (a *adapter) FullPathname(name string) (string, error) {
	return name, nil
}

func openAccessFromFlags(flags sqlitevfs.OpenFlag) wire.OpenAccess {
	switch {
	case flags&sqlitevfs.OPEN_EXCLUSIVE != 0 && flags&sqlitevfs.OPEN_CREATE != 0:
		return wire.AccessCreateNew
	case flags&sqlitevfs.OPEN_CREATE != 0:
		return wire.AccessCreate
	case flags&sqlitevfs.OPEN_READONLY != 0:
		return wire.AccessRead
	default:
		return wire.AccessWrite
	}
}

// vfsFile adapts a File to sqlitevfs.File, plus the optional
// sqlitevfs.FileLockState/FileSizeHint interfaces the reference driver
// probes for via type assertion.
type vfsFile struct {
	file          File
	backend       Backend
	path          string
	readOnly      bool
	deleteOnClose bool

	mu   sync.Mutex
	lock sqlitevfs.LockLevel
}

var (
	_ sqlitevfs.File          = (*vfsFile)(nil)
	_ sqlitevfs.FileLockState = (*vfsFile)(nil)
	_ sqlitevfs.FileSizeHint  = (*vfsFile)(nil)
)

func (f *vfsFile) Close() error {
	err := f.file.Close()
	if f.deleteOnClose {
		if delErr := f.backend.Delete(f.path); err == nil {
			err = delErr
		}
	}
	return err
}

// SizeHint preallocates size bytes ahead of a bulk write, per spec.md's
// SIZE_HINT file-control entry. It never shrinks the file.
func (f *vfsFile) SizeHint(size int64) error {
	cur, err := f.file.Size()
	if err != nil {
		return err
	}
	if size <= cur {
		return nil
	}
	return f.file.Truncate(size)
}

func (f *vfsFile) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

func (f *vfsFile) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, sqlite3.IOERR_WRITE
	}
	return f.file.WriteAt(p, off)
}

func (f *vfsFile) Truncate(size int64) error {
	if f.readOnly {
		return sqlite3.IOERR_TRUNCATE
	}
	return f.file.Truncate(size)
}

func (f *vfsFile) Sync(flag sqlitevfs.SyncFlag) error {
	return f.file.Sync()
}

func (f *vfsFile) Size() (int64, error) {
	return f.file.Size()
}

func (f *vfsFile) Lock(lock sqlitevfs.LockLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := lockFromLevel(lock)
	granted, err := f.file.Lock(want)
	if err != nil {
		return sqlite3.IOERR_LOCK
	}
	if !granted {
		return sqlite3.BUSY
	}
	f.lock = lock
	return nil
}

func (f *vfsFile) Unlock(lock sqlitevfs.LockLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Unlock(lockFromLevel(lock)); err != nil {
		return sqlite3.IOERR_UNLOCK
	}
	f.lock = lock
	return nil
}

func (f *vfsFile) CheckReservedLock() (bool, error) {
	return f.file.Reserved()
}

func (f *vfsFile) SectorSize() int {
	return wire.WalRegionSize
}

func (f *vfsFile) DeviceCharacteristics() sqlitevfs.DeviceCharacteristic {
	return sqlitevfs.IOCAP_SAFE_APPEND
}

func (f *vfsFile) LockState() sqlitevfs.LockLevel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock
}

func lockFromLevel(lock sqlitevfs.LockLevel) wire.Lock {
	switch lock {
	case sqlitevfs.LOCK_NONE:
		return wire.LockNone
	case sqlitevfs.LOCK_SHARED:
		return wire.LockShared
	case sqlitevfs.LOCK_RESERVED:
		return wire.LockReserved
	case sqlitevfs.LOCK_PENDING:
		return wire.LockPending
	default:
		return wire.LockExclusive
	}
}
