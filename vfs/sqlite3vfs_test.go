// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	sqlitevfs "github.com/ncruces/go-sqlite3/vfs"

	"github.com/dreamsxin/sqlitevfs/backend/mem"
	"github.com/dreamsxin/sqlitevfs/wire"
)

func TestOpenAccessFromFlags(t *testing.T) {
	cases := []struct {
		flags sqlitevfs.OpenFlag
		want  wire.OpenAccess
	}{
		{sqlitevfs.OPEN_READONLY, wire.AccessRead},
		{sqlitevfs.OPEN_CREATE, wire.AccessCreate},
		{sqlitevfs.OPEN_CREATE | sqlitevfs.OPEN_EXCLUSIVE, wire.AccessCreateNew},
		{0, wire.AccessWrite},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, openAccessFromFlags(tc.flags))
	}
}

func TestLockFromLevel(t *testing.T) {
	cases := map[sqlitevfs.LockLevel]wire.Lock{
		sqlitevfs.LOCK_NONE:      wire.LockNone,
		sqlitevfs.LOCK_SHARED:    wire.LockShared,
		sqlitevfs.LOCK_RESERVED:  wire.LockReserved,
		sqlitevfs.LOCK_PENDING:   wire.LockPending,
		sqlitevfs.LOCK_EXCLUSIVE: wire.LockExclusive,
	}
	for level, want := range cases {
		require.Equal(t, want, lockFromLevel(level))
	}
}

func TestAdapterOpenAndLock(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	f, gotFlags, err := a.Open("test.db", sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE)
	require.NoError(t, err)
	require.Equal(t, sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE, gotFlags)
	defer f.Close()

	require.NoError(t, f.Lock(sqlitevfs.LOCK_SHARED))
	vf := f.(*vfsFile)
	require.Equal(t, sqlitevfs.LOCK_SHARED, vf.LockState())

	reserved, err := f.CheckReservedLock()
	require.NoError(t, err)
	require.False(t, reserved)

	require.NoError(t, f.Unlock(sqlitevfs.LOCK_NONE))
}

func TestAdapterOpenDeletesOnClose(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	f, _, err := a.Open("scratch.db", sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE|sqlitevfs.OPEN_DELETEONCLOSE)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := b.Exists("scratch.db")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAdapterOpenSynthesizesNameForAnonymousTempFile(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	f, _, err := a.Open("", sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE|sqlitevfs.OPEN_DELETEONCLOSE)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestAdapterOpenRejectsAnonymousNameWithoutDeleteOnClose(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	_, _, err := a.Open("", sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE)
	require.Error(t, err)
}

func TestVfsFileSizeHintExtendsButNeverShrinks(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	f, _, err := a.Open("hint.db", sqlitevfs.OPEN_CREATE|sqlitevfs.OPEN_READWRITE)
	require.NoError(t, err)
	defer f.Close()

	hinter := f.(sqlitevfs.FileSizeHint)
	require.NoError(t, hinter.SizeHint(100))
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(100), size)

	require.NoError(t, hinter.SizeHint(10))
	size, err = f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(100), size)
}

func TestAdapterDeleteAndAccess(t *testing.T) {
	b := mem.New()
	a := &adapter{backend: b}

	f, _, err := a.Open("test.db", sqlitevfs.OPEN_CREATE)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := a.Access("test.db", sqlitevfs.ACCESS_EXISTS)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, a.Delete("test.db", false))

	exists, err = a.Access("test.db", sqlitevfs.ACCESS_EXISTS)
	require.NoError(t, err)
	require.False(t, exists)
}
