// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"fmt"
	"os"
	"syscall"

	"github.com/dreamsxin/sqlitevfs/wire"
)

// Store is the backing byte store the coordinator opens database paths
// against. It is the "on-disk byte store" spec.md names as an external
// collaborator, specified only by interface; OSStore below is the example
// implementation the coordinator binary runs with.
type Store interface {
	// Exists reports whether path currently refers to a regular file.
	Exists(path string) (bool, error)
	// IsDir reports whether path currently refers to a directory.
	IsDir(path string) (bool, error)
	// Open opens path under the given access mode, creating it as access
	// requires. No access mode truncates an existing file.
	Open(path string, access wire.OpenAccess) (StoreFile, error)
	// Delete removes path. A missing path is not an error.
	Delete(path string) error
	// Ino returns the current inode identity of path, used to detect the
	// backing file being replaced out from under an open connection (see
	// the Moved request).
	Ino(path string) (uint64, error)
}

// StoreFile is an open handle on a backing file: positional read/write,
// sync, size and truncate.
type StoreFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Size() (int64, error)
	Truncate(size int64) error
	Close() error
}

// OSStore is a Store backed directly by the local filesystem.
type OSStore struct{}

func (OSStore) Exists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !fi.IsDir(), nil
}

func (OSStore) IsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (OSStore) Open(path string, access wire.OpenAccess) (StoreFile, error) {
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
		return nil, fmt.Errorf("coordinator: unknown open access mode %v", access)
	}
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, err
	}
	return &osFile{f: f}, nil
}

func (OSStore) Delete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (OSStore) Ino(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("coordinator: inode identity unavailable on this platform")
	}
	return sys.Ino, nil
}

type osFile struct {
	f *os.File
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osFile) Sync() error                              { return o.f.Sync() }
func (o *osFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *osFile) Close() error                             { return o.f.Close() }

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
