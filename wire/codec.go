// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"encoding/binary"
	"io"
)

// EncodeRequest renders req as the tag plus payload bytes of a frame (the
// 4-byte length prefix is added by Conn when the frame is sent).
func EncodeRequest(req Request) []byte {
	buf := make([]byte, 2, 16)
	binary.BigEndian.PutUint16(buf, uint16(req.requestTag()))

	switch r := req.(type) {
	case OpenRequest:
		buf = appendU16(buf, uint16(r.Access))
		buf = append(buf, r.Db...)
	case DeleteRequest:
		buf = append(buf, r.Db...)
	case ExistsRequest:
		buf = append(buf, r.Db...)
	case LockRequest:
		buf = appendU16(buf, uint16(r.Lock))
	case GetRequest:
		buf = appendU64(buf, r.Start)
		buf = appendU64(buf, r.End)
	case PutRequest:
		buf = appendU64(buf, r.Dst)
		buf = append(buf, r.Data...)
	case SizeRequest:
	case SetLenRequest:
		buf = appendU64(buf, r.Len)
	case ReservedRequest:
	case GetWalIndexRequest:
		buf = appendU32(buf, r.Region)
	case PutWalIndexRequest:
		buf = appendU32(buf, r.Region)
		buf = append(buf, r.Data[:]...)
	case LockWalIndexRequest:
		buf = append(buf, r.Start, r.End)
		// On the wire the WAL-index lock is numbered from 1 (None=1,
		// Shared=2, Exclusive=3); 0 is not a valid discriminant.
		buf = appendU16(buf, uint16(r.Lock)+1)
	case DeleteWalIndexRequest:
	case MovedRequest:
	}
	return buf
}

// DecodeRequest parses frame (tag plus payload, no length prefix) into a
// Request.
func DecodeRequest(frame []byte) (Request, error) {
	d := &decoder{b: frame}
	tag, err := d.u16()
	if err != nil {
		return nil, err
	}

	switch RequestTag(tag) {
	case TagOpen:
		access, err := d.u16()
		if err != nil {
			return nil, err
		}
		if !OpenAccess(access).valid() {
			return nil, &InvalidEnumError{Field: "Open.access", Value: access}
		}
		return OpenRequest{Access: OpenAccess(access), Db: string(d.rest())}, nil
	case TagDelete:
		return DeleteRequest{Db: string(d.rest())}, nil
	case TagExists:
		return ExistsRequest{Db: string(d.rest())}, nil
	case TagLock:
		lock, err := d.u16()
		if err != nil {
			return nil, err
		}
		if !Lock(lock).valid() {
			return nil, &InvalidEnumError{Field: "Lock.lock", Value: lock}
		}
		return LockRequest{Lock: Lock(lock)}, nil
	case TagGet:
		start, err := d.u64()
		if err != nil {
			return nil, err
		}
		end, err := d.u64()
		if err != nil {
			return nil, err
		}
		return GetRequest{Start: start, End: end}, nil
	case TagPut:
		dst, err := d.u64()
		if err != nil {
			return nil, err
		}
		return PutRequest{Dst: dst, Data: append([]byte(nil), d.rest()...)}, nil
	case TagSize:
		return SizeRequest{}, nil
	case TagSetLen:
		length, err := d.u64()
		if err != nil {
			return nil, err
		}
		return SetLenRequest{Len: length}, nil
	case TagReserved:
		return ReservedRequest{}, nil
	case TagGetWalIndex:
		region, err := d.u32()
		if err != nil {
			return nil, err
		}
		return GetWalIndexRequest{Region: region}, nil
	case TagPutWalIndex:
		region, err := d.u32()
		if err != nil {
			return nil, err
		}
		data, err := d.fixed(WalRegionSize)
		if err != nil {
			return nil, err
		}
		var req PutWalIndexRequest
		req.Region = region
		copy(req.Data[:], data)
		return req, nil
	case TagLockWalIndex:
		start, err := d.u8()
		if err != nil {
			return nil, err
		}
		end, err := d.u8()
		if err != nil {
			return nil, err
		}
		lock, err := d.u16()
		if err != nil {
			return nil, err
		}
		if lock == 0 || !WalIndexLock(lock-1).valid() {
			return nil, &InvalidEnumError{Field: "LockWalIndex.lock", Value: lock}
		}
		return LockWalIndexRequest{Start: start, End: end, Lock: WalIndexLock(lock - 1)}, nil
	case TagDeleteWalIndex:
		return DeleteWalIndexRequest{}, nil
	case TagMoved:
		return MovedRequest{}, nil
	default:
		return nil, &UnknownTagError{Kind: "request", Tag: tag}
	}
}

// EncodeResponse renders resp as the tag plus payload bytes of a frame.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, 2, 16)
	binary.BigEndian.PutUint16(buf, uint16(resp.responseTag()))

	switch r := resp.(type) {
	case DeniedResponse:
	case OpenResponse:
	case DeleteResponse:
	case ExistsResponse:
		buf = appendBool(buf, r.Exists)
	case LockResponse:
		buf = appendU16(buf, uint16(r.Lock))
	case GetResponse:
		buf = append(buf, r.Data...)
	case PutResponse:
	case SizeResponse:
		buf = appendU64(buf, r.Size)
	case SetLenResponse:
	case ReservedResponse:
		buf = appendBool(buf, r.Reserved)
	case GetWalIndexResponse:
		buf = append(buf, r.Data[:]...)
	case PutWalIndexResponse:
	case LockWalIndexResponse:
	case DeleteWalIndexResponse:
	case MovedResponse:
		buf = appendBool(buf, r.Moved)
	}
	return buf
}

// DecodeResponse parses frame (tag plus payload, no length prefix) into a
// Response.
func DecodeResponse(frame []byte) (Response, error) {
	d := &decoder{b: frame}
	tag, err := d.u16()
	if err != nil {
		return nil, err
	}

	switch ResponseTag(tag) {
	case TagDenied:
		return DeniedResponse{}, nil
	case TagRespOpen:
		return OpenResponse{}, nil
	case TagRespDelete:
		return DeleteResponse{}, nil
	case TagRespExists:
		exists, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return ExistsResponse{Exists: exists}, nil
	case TagRespLock:
		lock, err := d.u16()
		if err != nil {
			return nil, err
		}
		if !Lock(lock).valid() {
			return nil, &InvalidEnumError{Field: "Lock.lock", Value: lock}
		}
		return LockResponse{Lock: Lock(lock)}, nil
	case TagRespGet:
		return GetResponse{Data: append([]byte(nil), d.rest()...)}, nil
	case TagRespPut:
		return PutResponse{}, nil
	case TagRespSize:
		size, err := d.u64()
		if err != nil {
			return nil, err
		}
		return SizeResponse{Size: size}, nil
	case TagRespSetLen:
		return SetLenResponse{}, nil
	case TagRespReserved:
		reserved, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return ReservedResponse{Reserved: reserved}, nil
	case TagRespGetWalIndex:
		data, err := d.fixed(WalRegionSize)
		if err != nil {
			return nil, err
		}
		var resp GetWalIndexResponse
		copy(resp.Data[:], data)
		return resp, nil
	case TagRespPutWalIndex:
		return PutWalIndexResponse{}, nil
	case TagRespLockWalIndex:
		return LockWalIndexResponse{}, nil
	case TagRespDeleteWalIndex:
		return DeleteWalIndexResponse{}, nil
	case TagRespMoved:
		moved, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return MovedResponse{Moved: moved}, nil
	default:
		return nil, &UnknownTagError{Kind: "response", Tag: tag}
	}
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 0x01)
	}
	return append(buf, 0x00)
}

// decoder is a forward-only cursor over a decoded frame body.
type decoder struct {
	b   []byte
	pos int
}

func (d *decoder) need(n int) error {
	if len(d.b)-d.pos < n {
		return &FramingError{Op: "decode field", Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.b[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.b[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.b[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.b[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) boolean() (bool, error) {
	v, err := d.u8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	v := d.b[d.pos : d.pos+n]
	d.pos += n
	return v, nil
}

func (d *decoder) rest() []byte {
	v := d.b[d.pos:]
	d.pos = len(d.b)
	return v
}
