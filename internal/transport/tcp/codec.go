package tcp

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"

	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/wire"
)

// decodeRequest turns a wire request header plus its payload into an
// engine.Request. Arg1/Arg2 carry scalar operands (handles, masks,
// notify kinds); the payload carries variable-length data (names,
// values, VarInfo). The layouts below are this transport's own wire
// convention — spec.md §6 fixes the header shape and leaves payload
// contents to the implementer.
func decodeRequest(hdr wire.RequestHeader, payload []byte, boundClientID uint32) (engine.Request, wire.Errno) {
	clientID := hdr.ClientID
	if clientID == 0 {
		clientID = boundClientID
	}
	req := engine.Request{ClientID: clientID, Kind: hdr.Kind, TxnID: hdr.TxnID, Handle: engine.Handle(hdr.Arg1)}

	switch hdr.Kind {
	case wire.Open:
		req.BufSize = int(hdr.Arg1)
		req.UID = uint32(hdr.Arg2)
	case wire.Close:
	case wire.Echo:
		req.Echo = uint32(hdr.Arg1)
	case wire.New:
		info, err := decodeVarInfo(payload)
		if err != wire.EOK {
			return req, err
		}
		req.VarInfo = info
	case wire.Alias:
		req.Name = string(payload)
	case wire.GetAliases, wire.Find:
		if hdr.Kind == wire.Find {
			req.Name = string(payload)
		}
	case wire.Get, wire.Type, wire.Name, wire.Length, wire.Flags, wire.Info:
		req.UID = uint32(hdr.Arg2)
	case wire.Set:
		req.UID = uint32(hdr.Arg2)
		if len(payload) < 1 {
			return req, wire.EINVAL
		}
		v, err := wire.DecodeValue(bytes.NewReader(payload[1:]), wire.ValueType(payload[0]))
		if err != nil {
			return req, wire.EINVAL
		}
		req.Value = v
	case wire.SetFlags, wire.ClearFlags:
		req.Mask = engine.Flags(hdr.Arg2)
	case wire.Notify, wire.NotifyCancel:
		req.NotifyKind = wire.NotifyKind(hdr.Arg2)
	case wire.Print:
		req.UID = uint32(hdr.Arg2)
	case wire.OpenPrintSession, wire.ClosePrintSession:
	case wire.GetValidationRequest:
	case wire.SendValidationResponse:
		req.ValidationResult = wire.Errno(int32(hdr.Arg2))
	case wire.GetFirst:
		req.Query = decodeQuery(payload)
	case wire.GetNext:
	default:
		return req, wire.EINVAL
	}
	return req, wire.EOK
}

// decodeVarInfo parses NEW's payload:
// [type u8][instanceID u32][flags u32][formatLen u16][format][nameLen u16][name]
// [readCount u16][readUIDs u32...][writeCount u16][writeUIDs u32...][value]
func decodeVarInfo(payload []byte) (engine.VarInfo, wire.Errno) {
	r := bytes.NewReader(payload)
	var typ uint8
	if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
		return engine.VarInfo{}, wire.EINVAL
	}
	var instanceID, flags uint32
	binary.Read(r, binary.BigEndian, &instanceID)
	binary.Read(r, binary.BigEndian, &flags)

	format, err := readString16(r)
	if err != nil {
		return engine.VarInfo{}, wire.EINVAL
	}
	name, err := readString16(r)
	if err != nil {
		return engine.VarInfo{}, wire.EINVAL
	}
	readUIDs, err := readUIDList(r)
	if err != nil {
		return engine.VarInfo{}, wire.EINVAL
	}
	writeUIDs, err := readUIDList(r)
	if err != nil {
		return engine.VarInfo{}, wire.EINVAL
	}
	val, verr := wire.DecodeValue(r, wire.ValueType(typ))
	if verr != nil {
		return engine.VarInfo{}, wire.EINVAL
	}

	return engine.VarInfo{
		Name:       name,
		InstanceID: instanceID,
		Value:      val,
		Flags:      engine.Flags(flags),
		Format:     format,
		Perms:      engine.Permissions{ReadUIDs: readUIDs, WriteUIDs: writeUIDs},
	}, wire.EOK
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readUIDList(r *bytes.Reader) ([]uint32, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeQuery parses GET_FIRST's optional selector payload:
// [nameLen u16][name][hasInstance u8][instanceID u32][flagMask u32][tagMask u16]
func decodeQuery(payload []byte) engine.Query {
	if len(payload) == 0 {
		return engine.Query{}
	}
	r := bytes.NewReader(payload)
	name, err := readString16(r)
	if err != nil {
		return engine.Query{}
	}
	var hasInstance uint8
	var instanceID, flagMask uint32
	var tagMask uint16
	binary.Read(r, binary.BigEndian, &hasInstance)
	binary.Read(r, binary.BigEndian, &instanceID)
	binary.Read(r, binary.BigEndian, &flagMask)
	binary.Read(r, binary.BigEndian, &tagMask)
	return engine.Query{
		NameSubstring: name,
		HasInstanceID: hasInstance != 0,
		InstanceID:    instanceID,
		FlagMask:      engine.Flags(flagMask),
		TagMask:       tagMask,
	}
}

// writeResponse writes a header-only response (no payload).
func writeResponse(conn net.Conn, hdr wire.ResponseHeader) {
	wire.WriteResponseHeader(conn, hdr)
}

// writeResponseWithValue serializes an engine.Response onto the wire,
// attaching Value/Name/Handles as the payload when the op carries one.
func writeResponseWithValue(conn net.Conn, resp engine.Response) {
	var buf bytes.Buffer
	hasPayload := resp.Value.Type.Valid() || resp.Name != "" || len(resp.Handles) > 0

	if hasPayload {
		switch {
		case resp.Value.Type.Valid():
			buf.WriteByte(byte(resp.Value.Type))
			resp.Value.Encode(&buf)
		case resp.Name != "":
			binary.Write(&buf, binary.BigEndian, uint16(len(resp.Name)))
			buf.WriteString(resp.Name)
		case len(resp.Handles) > 0:
			binary.Write(&buf, binary.BigEndian, uint32(len(resp.Handles)))
			for _, h := range resp.Handles {
				binary.Write(&buf, binary.BigEndian, uint32(h))
			}
		}
	}

	hdr := wire.ResponseHeader{
		Code:       resp.Code,
		Result1:    uint64(resp.Handle),
		Result2:    uint64(resp.Echo) | uint64(resp.Flags)<<32,
		TxnID:      resp.TxnID,
		PayloadLen: uint32(buf.Len()),
	}
	wire.WriteResponseHeader(conn, hdr)
	if buf.Len() > 0 {
		conn.Write(buf.Bytes())
	}
}
