// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// initialBufCap is the receive buffer's resting capacity. It is grown to
// accommodate an oversized frame and shrunk back down afterward, mirroring
// the growable/shrinkable buffer the original coordinator connection kept.
const initialBufCap = 8192

// Conn frames Request/Response values over a net.Conn: a 4-byte big-endian
// length (counting itself), a 2-byte tag, then tag-specific fields.
type Conn struct {
	nc  net.Conn
	buf []byte
}

// NewConn wraps an already-established connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, buf: make([]byte, 0, initialBufCap)}
}

// RawConn returns the underlying net.Conn, e.g. to toggle TCP options.
func (c *Conn) RawConn() net.Conn { return c.nc }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// SendRequest writes req as a complete length-prefixed frame.
func (c *Conn) SendRequest(req Request) error {
	return c.send(EncodeRequest(req))
}

// SendResponse writes resp as a complete length-prefixed frame.
func (c *Conn) SendResponse(resp Response) error {
	return c.send(EncodeResponse(resp))
}

func (c *Conn) send(payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(frame)))
	copy(frame[4:], payload)

	for written := 0; written < len(frame); {
		n, err := c.nc.Write(frame[written:])
		if err != nil {
			return &FramingError{Op: "send", Err: err}
		}
		written += n
	}
	return nil
}

// ReceiveRequest reads one complete frame and decodes it as a Request.
func (c *Conn) ReceiveRequest() (Request, error) {
	frame, err := c.receiveFrame()
	if err != nil {
		return nil, err
	}
	return DecodeRequest(frame)
}

// ReceiveResponse reads one complete frame and decodes it as a Response.
func (c *Conn) ReceiveResponse() (Response, error) {
	frame, err := c.receiveFrame()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(frame)
}

// receiveFrame reads one frame's declared length prefix plus body and
// returns the tag+payload slice (the length prefix is not included).
// Reading zero bytes mid-frame is reported as a connection-closed error;
// reading zero bytes before any byte of a new frame has arrived is a clean
// end-of-stream (io.EOF).
func (c *Conn) receiveFrame() ([]byte, error) {
	if err := c.fillTo(4); err != nil {
		return nil, err
	}
	declared := binary.BigEndian.Uint32(c.buf[:4])
	if declared < 4 {
		return nil, &FramingError{Op: "receive", Err: errors.New("declared frame length shorter than the length prefix itself")}
	}

	if err := c.fillTo(int(declared)); err != nil {
		return nil, err
	}
	if len(c.buf) != int(declared) {
		// The buffer already holds more than this frame declared. A
		// tolerant codec could slice off the remainder and keep it for
		// the next frame; this one treats it as a protocol violation.
		return nil, &FramingError{Op: "receive", Err: errors.New("excess data buffered past the declared frame length")}
	}

	body := append([]byte(nil), c.buf[4:]...)
	c.resetBuf()
	return body, nil
}

// fillTo grows c.buf (reading from the wire) until it holds at least want
// bytes.
func (c *Conn) fillTo(want int) error {
	if want > cap(c.buf) {
		grown := make([]byte, len(c.buf), want)
		copy(grown, c.buf)
		c.buf = grown
	}
	for len(c.buf) < want {
		n, err := c.nc.Read(c.buf[len(c.buf):want])
		if n == 0 {
			if len(c.buf) == 0 && errors.Is(err, io.EOF) {
				return io.EOF
			}
			return &FramingError{Op: "receive", Err: io.ErrUnexpectedEOF}
		}
		c.buf = c.buf[:len(c.buf)+n]
	}
	return nil
}

func (c *Conn) resetBuf() {
	if cap(c.buf) > initialBufCap {
		c.buf = make([]byte, 0, initialBufCap)
		return
	}
	c.buf = c.buf[:0]
}
