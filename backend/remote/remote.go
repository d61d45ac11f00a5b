// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package remote is the Backend that defers all locking and WAL-index
// state to a coordinator process, over the wire protocol.
package remote

import (
	"fmt"
	"sync/atomic"

	"github.com/dreamsxin/sqlitevfs/coordinator/coordclient"
	"github.com/dreamsxin/sqlitevfs/vfs"
	"github.com/dreamsxin/sqlitevfs/wire"
)

// Backend dials addr for every Open; Delete and Exists are one-shot calls
// that do not require an open connection.
type Backend struct {
	addr   string
	tmpSeq int64
}

// New returns a Backend that talks to the coordinator listening on addr.
func New(addr string) *Backend {
	return &Backend{addr: addr}
}

func (b *Backend) Open(path string, access wire.OpenAccess) (vfs.File, error) {
	c, err := coordclient.Dial(b.addr, access, path)
	if err != nil {
		return nil, err
	}
	return &file{client: c}, nil
}

func (b *Backend) Delete(path string) error {
	return coordclient.Delete(b.addr, path)
}

func (b *Backend) Exists(path string) (bool, error) {
	return coordclient.Exists(b.addr, path)
}

// Access reports only whether path exists on the coordinator, for write
// checks as well as read checks: writability is not tested, since the wire
// protocol has no request for it.
func (b *Backend) Access(path string, write bool) (bool, error) {
	return coordclient.Exists(b.addr, path)
}

func (b *Backend) TemporaryName() (string, error) {
	n := atomic.AddInt64(&b.tmpSeq, 1)
	return fmt.Sprintf("/tmp/sqlitevfs-remote-%d", n), nil
}

// file adapts one coordclient.Client connection to vfs.File.
type file struct {
	client *coordclient.Client
	lock   wire.Lock
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	data, err := f.client.Get(uint64(off), uint64(off)+uint64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, nil
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if err := f.client.Put(uint64(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *file) Sync() error { return nil }

func (f *file) Size() (int64, error) {
	size, err := f.client.Size()
	return int64(size), err
}

func (f *file) Truncate(size int64) error {
	return f.client.SetLen(uint64(size))
}

func (f *file) Reserved() (bool, error) {
	return f.client.Reserved()
}

func (f *file) Lock(lock wire.Lock) (bool, error) {
	granted, newLock, err := f.client.Lock(lock)
	if err != nil {
		return false, err
	}
	if granted {
		f.lock = newLock
	}
	return granted, nil
}

func (f *file) Unlock(lock wire.Lock) error {
	granted, newLock, err := f.client.Lock(lock)
	if err != nil {
		return err
	}
	if !granted {
		return fmt.Errorf("remote: unlock to %s refused", lock)
	}
	f.lock = newLock
	return nil
}

func (f *file) CurrentLock() wire.Lock { return f.lock }

func (f *file) GetWalIndex(region uint32) ([wire.WalRegionSize]byte, error) {
	return f.client.GetWalIndex(region)
}

func (f *file) PutWalIndex(region uint32, data [wire.WalRegionSize]byte) error {
	return f.client.PutWalIndex(region, data)
}

func (f *file) LockWalIndex(start, end uint8, lock wire.WalIndexLock) (bool, error) {
	return f.client.LockWalIndex(start, end, lock)
}

func (f *file) DeleteWalIndex() error {
	return f.client.DeleteWalIndex()
}

func (f *file) Moved() (bool, error) {
	return f.client.Moved()
}

func (f *file) Close() error {
	return f.client.Close()
}
