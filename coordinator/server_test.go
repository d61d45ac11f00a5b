// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/sqlitevfs/wire"
)

func startTestServer(t *testing.T) (addr, path string) {
	t.Helper()
	dir := t.TempDir()
	srv := NewServer(Config{Store: OSStore{}})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String(), filepath.Join(dir, "test.db")
}

func dial(t *testing.T, addr string) *wire.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return wire.NewConn(nc)
}

func openPath(t *testing.T, addr, path string, access wire.OpenAccess) *wire.Conn {
	t.Helper()
	wc := dial(t, addr)
	require.NoError(t, wc.SendRequest(wire.OpenRequest{Access: access, Db: path}))
	resp, err := wc.ReceiveResponse()
	require.NoError(t, err)
	require.IsType(t, wire.OpenResponse{}, resp)
	return wc
}

func lock(t *testing.T, wc *wire.Conn, l wire.Lock) wire.Response {
	t.Helper()
	require.NoError(t, wc.SendRequest(wire.LockRequest{Lock: l}))
	resp, err := wc.ReceiveResponse()
	require.NoError(t, err)
	return resp
}

// S1: a connection upgrading to Exclusive while other readers remain only
// gets Pending, a third reader is refused outright, and once the other
// reader drops its Shared lock the upgrade completes.
func TestScenarioS1ExclusiveUpgradeWaitsForReaders(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()
	b := openPath(t, addr, path, wire.AccessCreate)
	defer b.Close()

	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, a, wire.LockShared))
	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, b, wire.LockShared))

	require.Equal(t, wire.LockResponse{Lock: wire.LockPending}, lock(t, a, wire.LockExclusive))

	c := openPath(t, addr, path, wire.AccessCreate)
	defer c.Close()
	require.Equal(t, wire.DeniedResponse{}, lock(t, c, wire.LockShared))

	require.Equal(t, wire.LockResponse{Lock: wire.LockNone}, lock(t, b, wire.LockNone))
	require.Equal(t, wire.LockResponse{Lock: wire.LockExclusive}, lock(t, a, wire.LockExclusive))
}

// S2: Reserved coexists with any number of Shared readers, but only one
// connection may hold write intent at a time.
func TestScenarioS2ReservedCoexistsWithReaders(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()
	b := openPath(t, addr, path, wire.AccessCreate)
	defer b.Close()

	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, a, wire.LockShared))
	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, b, wire.LockShared))

	require.Equal(t, wire.LockResponse{Lock: wire.LockReserved}, lock(t, a, wire.LockReserved))

	c := openPath(t, addr, path, wire.AccessCreate)
	defer c.Close()
	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, c, wire.LockShared))

	require.Equal(t, wire.DeniedResponse{}, lock(t, b, wire.LockReserved))
}

// S4: a WAL-index band lock request touching several regions is refused in
// full if any single region in the band refuses, leaving every region's
// state untouched.
func TestScenarioS4WalIndexBandAllOrNothing(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()
	b := openPath(t, addr, path, wire.AccessCreate)
	defer b.Close()

	require.NoError(t, a.SendRequest(wire.LockWalIndexRequest{Start: 2, End: 3, Lock: wire.WalIndexLockShared}))
	resp, err := a.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.LockWalIndexResponse{}, resp)

	require.NoError(t, b.SendRequest(wire.LockWalIndexRequest{Start: 2, End: 4, Lock: wire.WalIndexLockExclusive}))
	resp, err = b.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.DeniedResponse{}, resp)

	// Region 3 alone would have admitted the exclusive lock; confirm the
	// refused band left it untouched by granting it to b on its own.
	require.NoError(t, b.SendRequest(wire.LockWalIndexRequest{Start: 3, End: 4, Lock: wire.WalIndexLockExclusive}))
	resp, err = b.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.LockWalIndexResponse{}, resp)
}

// S5: if the backing file disappears out from under a live registry entry,
// the next Open resets the shared lock state in place, so even connections
// that never closed observe the fresh state through the same *PathLock.
func TestScenarioS5ExternalRemovalResetsState(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()
	b := openPath(t, addr, path, wire.AccessCreate)
	defer b.Close()

	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, a, wire.LockShared))
	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, b, wire.LockShared))

	require.NoError(t, os.Remove(path))

	c := openPath(t, addr, path, wire.AccessCreate)
	defer c.Close()

	require.NoError(t, c.SendRequest(wire.ReservedRequest{}))
	resp, err := c.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.ReservedResponse{Reserved: false}, resp)

	require.Equal(t, wire.LockResponse{Lock: wire.LockShared}, lock(t, c, wire.LockShared))
}

// S6: a Get spanning past end of file returns only the bytes actually
// present, not an error and not a zero-padded full-length buffer.
func TestScenarioS6ShortRead(t *testing.T) {
	addr, path := startTestServer(t)

	content := make([]byte, 50)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0o666))

	a := openPath(t, addr, path, wire.AccessWrite)
	defer a.Close()

	require.NoError(t, a.SendRequest(wire.GetRequest{Start: 0, End: 200}))
	resp, err := a.ReceiveResponse()
	require.NoError(t, err)
	got, ok := resp.(wire.GetResponse)
	require.True(t, ok)
	require.Equal(t, content, got.Data)
}

// Moved reports true once the path's inode identity no longer matches the
// one recorded at Open time, e.g. after the backing file was replaced.
func TestMovedDetectsReplacedFile(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()

	require.NoError(t, a.SendRequest(wire.MovedRequest{}))
	resp, err := a.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.MovedResponse{Moved: false}, resp)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("replacement"), 0o666))

	require.NoError(t, a.SendRequest(wire.MovedRequest{}))
	resp, err = a.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.MovedResponse{Moved: true}, resp)
}

// A request sent before a successful Open, or any Open/Delete/Exists sent
// after one, is always refused rather than silently reinterpreted.
func TestSecondOpenOnConnectionIsDenied(t *testing.T) {
	addr, path := startTestServer(t)

	a := openPath(t, addr, path, wire.AccessCreate)
	defer a.Close()

	require.NoError(t, a.SendRequest(wire.OpenRequest{Access: wire.AccessCreate, Db: path}))
	resp, err := a.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.DeniedResponse{}, resp)
}

func TestTopLevelExistsAndDelete(t *testing.T) {
	addr, path := startTestServer(t)

	w := dial(t, addr)
	require.NoError(t, w.SendRequest(wire.ExistsRequest{Db: path}))
	resp, err := w.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.ExistsResponse{Exists: false}, resp)

	a := openPath(t, addr, path, wire.AccessCreate)
	a.Close()

	w2 := dial(t, addr)
	require.NoError(t, w2.SendRequest(wire.ExistsRequest{Db: path}))
	resp, err = w2.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.ExistsResponse{Exists: true}, resp)

	d := dial(t, addr)
	require.NoError(t, d.SendRequest(wire.DeleteRequest{Db: path}))
	resp, err = d.ReceiveResponse()
	require.NoError(t, err)
	require.Equal(t, wire.DeleteResponse{}, resp)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
