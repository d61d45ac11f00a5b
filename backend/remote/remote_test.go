// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package remote_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/sqlitevfs/backend/remote"
	"github.com/dreamsxin/sqlitevfs/coordinator"
	"github.com/dreamsxin/sqlitevfs/wire"
)

func startServer(t *testing.T) (addr, path string) {
	t.Helper()
	dir := t.TempDir()
	srv := coordinator.NewServer(coordinator.Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String(), filepath.Join(dir, "test.db")
}

func TestBackendOpenWriteReadSize(t *testing.T) {
	addr, path := startServer(t)
	b := remote.New(addr)

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	buf := make([]byte, 11)
	n, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestBackendLockAndUnlock(t *testing.T) {
	addr, path := startServer(t)
	b := remote.New(addr)

	a, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer a.Close()
	other, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer other.Close()

	granted, err := a.Lock(wire.LockShared)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = a.Lock(wire.LockExclusive)
	require.NoError(t, err)
	require.True(t, granted)
	require.Equal(t, wire.LockExclusive, a.CurrentLock())

	granted, err = other.Lock(wire.LockShared)
	require.NoError(t, err)
	require.False(t, granted)

	require.NoError(t, a.Unlock(wire.LockNone))
	require.Equal(t, wire.LockNone, a.CurrentLock())

	granted, err = other.Lock(wire.LockShared)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestBackendWalIndexRoundTrip(t *testing.T) {
	addr, path := startServer(t)
	b := remote.New(addr)

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	granted, err := f.LockWalIndex(0, 1, wire.WalIndexLockExclusive)
	require.NoError(t, err)
	require.True(t, granted)

	var block [wire.WalRegionSize]byte
	block[10] = 0x42
	require.NoError(t, f.PutWalIndex(2, block))

	got, err := f.GetWalIndex(2)
	require.NoError(t, err)
	require.Equal(t, block, got)

	require.NoError(t, f.DeleteWalIndex())
	got, err = f.GetWalIndex(2)
	require.NoError(t, err)
	require.Equal(t, [wire.WalRegionSize]byte{}, got)
}

func TestBackendDeleteAndExists(t *testing.T) {
	addr, path := startServer(t)
	b := remote.New(addr)

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := b.Exists(path)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, b.Delete(path))

	exists, err = b.Exists(path)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestBackendTemporaryNameIsUnique(t *testing.T) {
	b := remote.New("127.0.0.1:0")
	a, err := b.TemporaryName()
	require.NoError(t, err)
	c, err := b.TemporaryName()
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
