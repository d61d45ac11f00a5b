// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package localfs is a Backend over the local filesystem, using the same
// three-byte advisory lock range SQLite's own unix VFS locks
// (PENDING_BYTE, RESERVED_BYTE, the SHARED range) so that a process using
// this backend interoperates with any other SQLite process locking the
// same file on the same host. WAL-index state is process-local: two
// processes sharing a file through localfs do not see each other's WAL
// index, only the coordinator-backed remote Backend gives that guarantee
// across processes.
package localfs

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dreamsxin/sqlitevfs/coordinator"
	"github.com/dreamsxin/sqlitevfs/vfs"
	"github.com/dreamsxin/sqlitevfs/wire"
)

// Lock byte offsets, matching SQLite's os_unix.c scheme exactly so this
// backend's advisory locks are visible to any other SQLite process locking
// the same file.
const (
	pendingByte  = 0x40000000
	reservedByte = pendingByte + 1
	sharedFirst  = pendingByte + 2
	sharedSize   = 510
)

// Backend opens database files directly against the local filesystem.
type Backend struct {
	mu     sync.Mutex
	walIdx *coordinator.Registry[*coordinator.WalIndex]
	tmpSeq int
}

// New returns a Backend rooted at no particular directory; paths are
// passed through to the OS as-is.
func New() *Backend {
	return &Backend{
		walIdx: coordinator.NewRegistry(func() *coordinator.WalIndex { return coordinator.NewWalIndex() }),
	}
}

func (b *Backend) Open(path string, access wire.OpenAccess) (vfs.File, error) {
	var flags int
	switch access {
	case wire.AccessRead:
		flags = os.O_RDONLY
	case wire.AccessWrite:
		flags = os.O_RDWR
	case wire.AccessCreate:
		flags = os.O_RDWR | os.O_CREATE
	case wire.AccessCreateNew:
		flags = os.O_RDWR | os.O_CREATE | os.O_EXCL
	default:
		return nil, fmt.Errorf("localfs: unknown open access mode %v", access)
	}

	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, err
	}

	walIndex, _ := b.walIdx.Acquire(path)
	return &file{backend: b, path: path, f: f, walIndex: walIndex}, nil
}

func (b *Backend) Delete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil {
		_ = os.Remove(path + "-shm")
	}
	return err
}

func (b *Backend) Exists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !fi.IsDir(), nil
}

func (b *Backend) Access(path string, write bool) (bool, error) {
	mode := unix.R_OK
	if write {
		mode = unix.W_OK
	}
	return unix.Access(path, uint32(mode)) == nil, nil
}

func (b *Backend) TemporaryName() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tmpSeq++
	return fmt.Sprintf("%s/sqlitevfs-localfs-%d-%d", os.TempDir(), os.Getpid(), b.tmpSeq), nil
}

type file struct {
	backend  *Backend
	path     string
	f        *os.File
	walIndex *coordinator.WalIndex

	mu      sync.Mutex
	lock    wire.Lock
	walLock map[uint8]wire.WalIndexLock
}

func (f *file) ReadAt(p []byte, off int64) (int, error)  { return f.f.ReadAt(p, off) }
func (f *file) WriteAt(p []byte, off int64) (int, error) { return f.f.WriteAt(p, off) }
func (f *file) Sync() error                              { return f.f.Sync() }
func (f *file) Truncate(size int64) error                { return f.f.Truncate(size) }

func (f *file) Size() (int64, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// fcntlLock takes an open-file-description lock (Linux F_OFD_SETLK), so two
// handles opened on the same file within one process conflict with each
// other just as handles in different processes do.
func (f *file) fcntlLock(typ int16, start, len int64) error {
	lk := unix.Flock_t{Type: typ, Whence: 0, Start: start, Len: len}
	return unix.FcntlFlock(f.f.Fd(), unix.F_OFD_SETLK, &lk)
}

// Reserved reports the RESERVED byte is held by some process, including
// possibly this one.
func (f *file) Reserved() (bool, error) {
	f.mu.Lock()
	held := f.lock >= wire.LockReserved
	f.mu.Unlock()
	if held {
		return true, nil
	}
	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: reservedByte, Len: 1}
	if err := unix.FcntlFlock(f.f.Fd(), unix.F_OFD_GETLK, &lk); err != nil {
		return false, err
	}
	return lk.Type != unix.F_UNLCK, nil
}

// Lock implements the SQLite unix-VFS lock state machine directly against
// OS advisory byte-range locks, rather than against an in-process
// PathLock: this is what makes localfs interoperable with other processes
// locking the same file outside this module.
func (f *file) Lock(lock wire.Lock) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock >= lock {
		return true, nil
	}

	switch lock {
	case wire.LockShared:
		if err := f.fcntlLock(unix.F_RDLCK, pendingByte, 1); err != nil {
			return false, nil
		}
		err := f.fcntlLock(unix.F_RDLCK, sharedFirst, sharedSize)
		_ = f.fcntlLock(unix.F_UNLCK, pendingByte, 1)
		if err != nil {
			return false, nil
		}

	case wire.LockReserved:
		if err := f.fcntlLock(unix.F_WRLCK, reservedByte, 1); err != nil {
			return false, nil
		}

	case wire.LockPending, wire.LockExclusive:
		if f.lock < wire.LockPending {
			if err := f.fcntlLock(unix.F_WRLCK, pendingByte, 1); err != nil {
				return false, nil
			}
		}
		if lock == wire.LockExclusive {
			if err := f.fcntlLock(unix.F_WRLCK, sharedFirst, sharedSize); err != nil {
				return false, nil
			}
		}
	}

	f.lock = lock
	return true, nil
}

func (f *file) Unlock(lock wire.Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock <= lock {
		return nil
	}

	if lock < wire.LockExclusive && f.lock == wire.LockExclusive {
		_ = f.fcntlLock(unix.F_UNLCK, sharedFirst, sharedSize)
	}
	if lock < wire.LockPending {
		_ = f.fcntlLock(unix.F_UNLCK, pendingByte, 1)
	}
	if lock < wire.LockReserved {
		_ = f.fcntlLock(unix.F_UNLCK, reservedByte, 1)
	}
	if lock == wire.LockNone {
		_ = f.fcntlLock(unix.F_UNLCK, sharedFirst, sharedSize)
	}

	f.lock = lock
	return nil
}

func (f *file) CurrentLock() wire.Lock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock
}

func (f *file) GetWalIndex(region uint32) ([wire.WalRegionSize]byte, error) {
	return f.walIndex.Get(region), nil
}

func (f *file) PutWalIndex(region uint32, data [wire.WalRegionSize]byte) error {
	f.walIndex.Put(region, data)
	return nil
}

func (f *file) LockWalIndex(start, end uint8, lock wire.WalIndexLock) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walLock == nil {
		f.walLock = make(map[uint8]wire.WalIndexLock)
	}
	return f.walIndex.LockBand(start, end, f.walLock, lock)
}

func (f *file) DeleteWalIndex() error {
	f.walIndex.Delete()
	return nil
}

func (f *file) Moved() (bool, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return true, nil
	}
	cur, err := f.f.Stat()
	if err != nil {
		return true, nil
	}
	return !os.SameFile(fi, cur), nil
}

func (f *file) Close() error {
	f.backend.walIdx.Release(f.path)
	return f.f.Close()
}
