// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package coordclient is the synchronous client side of the wire protocol:
// one persistent connection per open database, with one request in flight
// at a time, matching the coordinator's own per-connection request loop.
package coordclient

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/dreamsxin/sqlitevfs/wire"
)

// dial connects to addr, a TCP host:port or a unix:// prefixed socket path,
// matching the notations vfs-coordinatord's --listen accepts.
func dial(addr string) (net.Conn, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return net.Dial("unix", path)
	}
	return net.Dial("tcp", addr)
}

// UnexpectedResponseError reports a response of a type the requesting
// method did not expect. Dial, Lock, LockWalIndex and Delete handle Denied
// themselves; every other method reports Denied with this error too.
type UnexpectedResponseError struct {
	Want string
	Got  wire.Response
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("coordclient: expected %s, got %T", e.Want, e.Got)
}

// Client is a single open database's connection to a coordinator: an Open
// handshake followed by however many of the per-connection requests the
// caller issues, in order, one at a time.
type Client struct {
	wc *wire.Conn
}

// Dial opens a connection to addr (a TCP host:port, or a unix:// prefixed
// socket path) and issues the Open handshake for db under access. The
// connection is ready for use on return, or closed and an error returned
// if the coordinator denies the Open.
func Dial(addr string, access wire.OpenAccess, db string) (*Client, error) {
	nc, err := dial(addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	wc := wire.NewConn(nc)

	if err := wc.SendRequest(wire.OpenRequest{Access: access, Db: db}); err != nil {
		wc.Close()
		return nil, err
	}
	resp, err := wc.ReceiveResponse()
	if err != nil {
		wc.Close()
		return nil, err
	}
	switch resp.(type) {
	case wire.OpenResponse:
		return &Client{wc: wc}, nil
	case wire.DeniedResponse:
		wc.Close()
		return nil, fmt.Errorf("coordclient: open %q: %w", db, os.ErrPermission)
	default:
		wc.Close()
		return nil, &UnexpectedResponseError{Want: "OpenResponse", Got: resp}
	}
}

// Close closes the underlying connection, releasing every lock this client
// holds on the coordinator side.
func (c *Client) Close() error {
	return c.wc.Close()
}

func (c *Client) roundTrip(req wire.Request) (wire.Response, error) {
	if err := c.wc.SendRequest(req); err != nil {
		return nil, err
	}
	return c.wc.ReceiveResponse()
}

// Get reads [start, end) from the database file, returning fewer bytes
// than requested at end of file.
func (c *Client) Get(start, end uint64) ([]byte, error) {
	resp, err := c.roundTrip(wire.GetRequest{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(wire.GetResponse)
	if !ok {
		return nil, &UnexpectedResponseError{Want: "GetResponse", Got: resp}
	}
	return r.Data, nil
}

// Put writes data at offset dst.
func (c *Client) Put(dst uint64, data []byte) error {
	resp, err := c.roundTrip(wire.PutRequest{Dst: dst, Data: data})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.PutResponse); !ok {
		return &UnexpectedResponseError{Want: "PutResponse", Got: resp}
	}
	return nil
}

// Size returns the database file's current length.
func (c *Client) Size() (uint64, error) {
	resp, err := c.roundTrip(wire.SizeRequest{})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(wire.SizeResponse)
	if !ok {
		return 0, &UnexpectedResponseError{Want: "SizeResponse", Got: resp}
	}
	return r.Size, nil
}

// SetLen truncates or extends the database file to len bytes.
func (c *Client) SetLen(len uint64) error {
	resp, err := c.roundTrip(wire.SetLenRequest{Len: len})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.SetLenResponse); !ok {
		return &UnexpectedResponseError{Want: "SetLenResponse", Got: resp}
	}
	return nil
}

// Reserved reports whether any connection, including this one, currently
// holds Reserved, Pending or Exclusive on the database file.
func (c *Client) Reserved() (bool, error) {
	resp, err := c.roundTrip(wire.ReservedRequest{})
	if err != nil {
		return false, err
	}
	r, ok := resp.(wire.ReservedResponse)
	if !ok {
		return false, &UnexpectedResponseError{Want: "ReservedResponse", Got: resp}
	}
	return r.Reserved, nil
}

// Lock requests the given lock level. A refusal is reported as granted=false
// with a nil error, matching SQLite's own "lock not available right now" as
// an ordinary outcome rather than a failure.
func (c *Client) Lock(lock wire.Lock) (granted bool, newLock wire.Lock, err error) {
	resp, err := c.roundTrip(wire.LockRequest{Lock: lock})
	if err != nil {
		return false, wire.LockNone, err
	}
	switch r := resp.(type) {
	case wire.LockResponse:
		return true, r.Lock, nil
	case wire.DeniedResponse:
		return false, wire.LockNone, nil
	default:
		return false, wire.LockNone, &UnexpectedResponseError{Want: "LockResponse", Got: resp}
	}
}

// GetWalIndex returns a copy of one 32 KiB WAL-index region.
func (c *Client) GetWalIndex(region uint32) ([wire.WalRegionSize]byte, error) {
	resp, err := c.roundTrip(wire.GetWalIndexRequest{Region: region})
	if err != nil {
		return [wire.WalRegionSize]byte{}, err
	}
	r, ok := resp.(wire.GetWalIndexResponse)
	if !ok {
		return [wire.WalRegionSize]byte{}, &UnexpectedResponseError{Want: "GetWalIndexResponse", Got: resp}
	}
	return r.Data, nil
}

// PutWalIndex stores the contents of one WAL-index region.
func (c *Client) PutWalIndex(region uint32, data [wire.WalRegionSize]byte) error {
	resp, err := c.roundTrip(wire.PutWalIndexRequest{Region: region, Data: data})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.PutWalIndexResponse); !ok {
		return &UnexpectedResponseError{Want: "PutWalIndexResponse", Got: resp}
	}
	return nil
}

// LockWalIndex requests lock for every region in [start, end), all or
// nothing. A refusal is reported as granted=false with a nil error.
func (c *Client) LockWalIndex(start, end uint8, lock wire.WalIndexLock) (granted bool, err error) {
	resp, err := c.roundTrip(wire.LockWalIndexRequest{Start: start, End: end, Lock: lock})
	if err != nil {
		return false, err
	}
	switch resp.(type) {
	case wire.LockWalIndexResponse:
		return true, nil
	case wire.DeniedResponse:
		return false, nil
	default:
		return false, &UnexpectedResponseError{Want: "LockWalIndexResponse", Got: resp}
	}
}

// DeleteWalIndex discards every WAL-index region and its lock state.
func (c *Client) DeleteWalIndex() error {
	resp, err := c.roundTrip(wire.DeleteWalIndexRequest{})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.DeleteWalIndexResponse); !ok {
		return &UnexpectedResponseError{Want: "DeleteWalIndexResponse", Got: resp}
	}
	return nil
}

// Moved reports whether the database path now refers to a different file
// than the one this client opened.
func (c *Client) Moved() (bool, error) {
	resp, err := c.roundTrip(wire.MovedRequest{})
	if err != nil {
		return false, err
	}
	r, ok := resp.(wire.MovedResponse)
	if !ok {
		return false, &UnexpectedResponseError{Want: "MovedResponse", Got: resp}
	}
	return r.Moved, nil
}

// Delete removes db on the coordinator at addr. It is a one-shot,
// connectionless operation: the coordinator closes the connection
// immediately after responding.
func Delete(addr, db string) error {
	wc, err := dialOneShot(addr)
	if err != nil {
		return err
	}
	defer wc.Close()

	if err := wc.SendRequest(wire.DeleteRequest{Db: db}); err != nil {
		return err
	}
	resp, err := wc.ReceiveResponse()
	if err != nil {
		return err
	}
	switch resp.(type) {
	case wire.DeleteResponse:
		return nil
	case wire.DeniedResponse:
		return fmt.Errorf("coordclient: delete %q: denied", db)
	default:
		return &UnexpectedResponseError{Want: "DeleteResponse", Got: resp}
	}
}

// Exists reports whether db currently refers to a regular file on the
// coordinator at addr. Like Delete, it is a one-shot operation.
func Exists(addr, db string) (bool, error) {
	wc, err := dialOneShot(addr)
	if err != nil {
		return false, err
	}
	defer wc.Close()

	if err := wc.SendRequest(wire.ExistsRequest{Db: db}); err != nil {
		return false, err
	}
	resp, err := wc.ReceiveResponse()
	if err != nil {
		return false, err
	}
	r, ok := resp.(wire.ExistsResponse)
	if !ok {
		return false, &UnexpectedResponseError{Want: "ExistsResponse", Got: resp}
	}
	return r.Exists, nil
}

func dialOneShot(addr string) (*wire.Conn, error) {
	nc, err := dial(addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return wire.NewConn(nc), nil
}
