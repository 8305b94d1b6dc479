package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic identifies a VarServer frame; Version is the protocol version
// this package speaks. A mismatch on either is a validation failure
// (spec.md §7): the connection is closed, never answered.
const (
	Magic   uint32 = 0x56415253 // "VARS"
	Version uint8  = 1
)

// RequestHeader is the fixed binary request record from spec.md §6:
// magic, version, client id, request kind, primary/secondary arguments,
// an optional transaction id, and an optional payload length. The
// payload, when PayloadLen > 0, follows the header on the wire.
type RequestHeader struct {
	ClientID  uint32
	Kind      RequestKind
	Arg1      uint64
	Arg2      uint64
	TxnID     uint32
	PayloadLen uint32
}

// ResponseHeader is the fixed binary response record: magic, version,
// errno-like code, up to two result values, transaction id, and an
// optional payload length.
type ResponseHeader struct {
	Code       Errno
	Result1    uint64
	Result2    uint64
	TxnID      uint32
	PayloadLen uint32
}

// wire layout, big-endian throughout:
//
//	magic      uint32
//	version    uint8
//	_pad       [3]byte   (alignment, reserved)
//	clientID   uint32
//	kind       uint8
//	_pad       [3]byte
//	arg1       uint64
//	arg2       uint64
//	txnID      uint32
//	payloadLen uint32
const requestHeaderWireLen = 4 + 1 + 3 + 4 + 1 + 3 + 8 + 8 + 4 + 4

// ReadRequestHeader decodes a fixed request header from r. It validates
// magic and version before returning the parsed header; a mismatch
// returns ErrBadMagic/ErrVersion, which the transport treats as fatal
// for the connection (spec.md §4.8).
func ReadRequestHeader(r io.Reader) (RequestHeader, error) {
	buf := make([]byte, requestHeaderWireLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return RequestHeader{}, err
	}

	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return RequestHeader{}, ErrBadMagic
	}
	version := buf[4]
	if version != Version {
		return RequestHeader{}, ErrVersion
	}

	var h RequestHeader
	h.ClientID = binary.BigEndian.Uint32(buf[8:12])
	h.Kind = RequestKind(buf[12])
	h.Arg1 = binary.BigEndian.Uint64(buf[16:24])
	h.Arg2 = binary.BigEndian.Uint64(buf[24:32])
	h.TxnID = binary.BigEndian.Uint32(buf[32:36])
	h.PayloadLen = binary.BigEndian.Uint32(buf[36:40])
	return h, nil
}

// WriteRequestHeader encodes h to w in wire format.
func WriteRequestHeader(w io.Writer, h RequestHeader) error {
	buf := make([]byte, requestHeaderWireLen)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	binary.BigEndian.PutUint32(buf[8:12], h.ClientID)
	buf[12] = byte(h.Kind)
	binary.BigEndian.PutUint64(buf[16:24], h.Arg1)
	binary.BigEndian.PutUint64(buf[24:32], h.Arg2)
	binary.BigEndian.PutUint32(buf[32:36], h.TxnID)
	binary.BigEndian.PutUint32(buf[36:40], h.PayloadLen)
	_, err := w.Write(buf)
	return err
}

const responseHeaderWireLen = 4 + 1 + 3 + 4 + 8 + 8 + 4 + 4

// ReadResponseHeader decodes a fixed response header from r.
func ReadResponseHeader(r io.Reader) (ResponseHeader, error) {
	buf := make([]byte, responseHeaderWireLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ResponseHeader{}, err
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return ResponseHeader{}, ErrBadMagic
	}
	version := buf[4]
	if version != Version {
		return ResponseHeader{}, ErrVersion
	}

	var h ResponseHeader
	h.Code = Errno(int32(binary.BigEndian.Uint32(buf[8:12])))
	h.Result1 = binary.BigEndian.Uint64(buf[12:20])
	h.Result2 = binary.BigEndian.Uint64(buf[20:28])
	h.TxnID = binary.BigEndian.Uint32(buf[28:32])
	h.PayloadLen = binary.BigEndian.Uint32(buf[32:36])
	return h, nil
}

// WriteResponseHeader encodes h to w in wire format.
func WriteResponseHeader(w io.Writer, h ResponseHeader) error {
	buf := make([]byte, responseHeaderWireLen)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	binary.BigEndian.PutUint32(buf[8:12], uint32(int32(h.Code)))
	binary.BigEndian.PutUint64(buf[12:20], h.Result1)
	binary.BigEndian.PutUint64(buf[20:28], h.Result2)
	binary.BigEndian.PutUint32(buf[28:32], h.TxnID)
	binary.BigEndian.PutUint32(buf[32:36], h.PayloadLen)
	_, err := w.Write(buf)
	return err
}

var (
	ErrBadMagic = fmt.Errorf("wire: bad magic")
	ErrVersion  = fmt.Errorf("wire: unsupported protocol version")
)
