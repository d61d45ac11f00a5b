// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package localfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/sqlitevfs/backend/localfs"
	"github.com/dreamsxin/sqlitevfs/wire"
)

func TestOpenWriteReadTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	require.NoError(t, f.Truncate(2))
	size, err = f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(2), size)
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	dir := t.TempDir()
	b := localfs.New()
	_, err := b.Open(filepath.Join(dir, "missing.db"), wire.AccessRead)
	require.Error(t, err)
}

func TestLockSharedThenReservedThenExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	granted, err := f.Lock(wire.LockShared)
	require.NoError(t, err)
	require.True(t, granted)

	reserved, err := f.Reserved()
	require.NoError(t, err)
	require.False(t, reserved)

	granted, err = f.Lock(wire.LockReserved)
	require.NoError(t, err)
	require.True(t, granted)

	reserved, err = f.Reserved()
	require.NoError(t, err)
	require.True(t, reserved)

	granted, err = f.Lock(wire.LockExclusive)
	require.NoError(t, err)
	require.True(t, granted)
	require.Equal(t, wire.LockExclusive, f.CurrentLock())

	require.NoError(t, f.Unlock(wire.LockNone))
	require.Equal(t, wire.LockNone, f.CurrentLock())
}

func TestTwoHandlesExclusiveConflictsWithShared(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	a, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer a.Close()
	other, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer other.Close()

	granted, err := a.Lock(wire.LockShared)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = other.Lock(wire.LockExclusive)
	require.NoError(t, err)
	require.False(t, granted)

	require.NoError(t, a.Unlock(wire.LockNone))

	granted, err = other.Lock(wire.LockExclusive)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestWalIndexRoundTripIsProcessLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	granted, err := f.LockWalIndex(0, 0, wire.WalIndexLockExclusive)
	require.NoError(t, err)
	require.True(t, granted)

	var block [wire.WalRegionSize]byte
	block[0] = 9
	require.NoError(t, f.PutWalIndex(0, block))

	got, err := f.GetWalIndex(0)
	require.NoError(t, err)
	require.Equal(t, block, got)
}

func TestMovedDetectsReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	defer f.Close()

	moved, err := f.Moved()
	require.NoError(t, err)
	require.False(t, moved)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o666))

	moved, err = f.Moved()
	require.NoError(t, err)
	require.True(t, moved)
}

func TestDeleteRemovesShmSibling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	b := localfs.New()

	f, err := b.Open(path, wire.AccessCreate)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(path+"-shm", []byte("shm"), 0o666))

	require.NoError(t, b.Delete(path))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "-shm")
	require.True(t, os.IsNotExist(err))
}
