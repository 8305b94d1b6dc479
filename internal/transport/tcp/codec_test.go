package tcp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/wire"
)

func TestDecodeRequestSet(t *testing.T) {
	var payload bytes.Buffer
	payload.WriteByte(byte(wire.TypeUint32))
	v := wire.NewUint32(7)
	require.NoError(t, v.Encode(&payload))

	hdr := wire.RequestHeader{Kind: wire.Set, Arg1: 5, Arg2: 99, ClientID: 1}
	req, errno := decodeRequest(hdr, payload.Bytes(), 1)
	require.Equal(t, wire.EOK, errno)
	assert.Equal(t, engine.Handle(5), req.Handle)
	assert.Equal(t, uint32(99), req.UID)
	assert.Equal(t, uint32(7), req.Value.Uint32())
}

func TestDecodeRequestSetEmptyPayloadIsEinval(t *testing.T) {
	hdr := wire.RequestHeader{Kind: wire.Set, Arg1: 5, Arg2: 1, ClientID: 1}
	_, errno := decodeRequest(hdr, nil, 1)
	assert.Equal(t, wire.EINVAL, errno, "a malformed zero-length SET payload must not panic the connection goroutine")
}

func TestDecodeRequestBoundClientIDFallback(t *testing.T) {
	hdr := wire.RequestHeader{Kind: wire.Echo, ClientID: 0, Arg1: 42}
	req, errno := decodeRequest(hdr, nil, 9)
	require.Equal(t, wire.EOK, errno)
	assert.Equal(t, uint32(9), req.ClientID, "a zero header client ID falls back to the connection's bound client")
	assert.Equal(t, uint32(42), req.Echo)
}

func TestDecodeRequestNew(t *testing.T) {
	var payload bytes.Buffer
	payload.WriteByte(byte(wire.TypeUint16))
	binary.Write(&payload, binary.BigEndian, uint32(3))  // instanceID
	binary.Write(&payload, binary.BigEndian, uint32(0))  // flags
	binary.Write(&payload, binary.BigEndian, uint16(0))  // format len
	binary.Write(&payload, binary.BigEndian, uint16(10)) // name len
	payload.WriteString("/temp/out0")
	binary.Write(&payload, binary.BigEndian, uint16(1)) // read UID count
	binary.Write(&payload, binary.BigEndian, uint32(1000))
	binary.Write(&payload, binary.BigEndian, uint16(0)) // write UID count
	v := wire.NewUint16(21)
	require.NoError(t, v.Encode(&payload))

	hdr := wire.RequestHeader{Kind: wire.New, ClientID: 1}
	req, errno := decodeRequest(hdr, payload.Bytes(), 1)
	require.Equal(t, wire.EOK, errno)
	assert.Equal(t, "/temp/out0", req.VarInfo.Name)
	assert.Equal(t, uint32(3), req.VarInfo.InstanceID)
	assert.Equal(t, []uint32{1000}, req.VarInfo.Perms.ReadUIDs)
	assert.Equal(t, uint16(21), req.VarInfo.Value.Uint16())
}

func TestDecodeQueryEmptyPayloadIsWildcard(t *testing.T) {
	q := decodeQuery(nil)
	assert.Equal(t, engine.Query{}, q)
}

func TestDecodeRequestGetFirstQuery(t *testing.T) {
	var payload bytes.Buffer
	binary.Write(&payload, binary.BigEndian, uint16(5))
	payload.WriteString("/temp")
	payload.WriteByte(1) // hasInstance
	binary.Write(&payload, binary.BigEndian, uint32(2))
	binary.Write(&payload, binary.BigEndian, uint32(0))
	binary.Write(&payload, binary.BigEndian, uint16(0))

	hdr := wire.RequestHeader{Kind: wire.GetFirst, ClientID: 1}
	req, errno := decodeRequest(hdr, payload.Bytes(), 1)
	require.Equal(t, wire.EOK, errno)
	assert.Equal(t, "/temp", req.Query.NameSubstring)
	assert.True(t, req.Query.HasInstanceID)
	assert.Equal(t, uint32(2), req.Query.InstanceID)
}

func TestDecodeRequestUnknownKindIsEinval(t *testing.T) {
	hdr := wire.RequestHeader{Kind: wire.RequestKind(250), ClientID: 1}
	_, errno := decodeRequest(hdr, nil, 1)
	assert.Equal(t, wire.EINVAL, errno)
}

func TestWriteResponseWithValueRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	resp := engine.Response{
		Code:   wire.EOK,
		Handle: 3,
		Value:  wire.NewUint32(55),
		TxnID:  11,
	}

	done := make(chan struct{})
	go func() {
		writeResponseWithValue(server, resp)
		close(done)
	}()

	hdr, err := wire.ReadResponseHeader(client)
	require.NoError(t, err)
	assert.Equal(t, wire.EOK, hdr.Code)
	assert.Equal(t, uint64(3), hdr.Result1)
	assert.Equal(t, uint32(11), hdr.TxnID)
	require.Greater(t, hdr.PayloadLen, uint32(0))

	payload := make([]byte, hdr.PayloadLen)
	_, err = client.Read(payload)
	require.NoError(t, err)

	gotType := wire.ValueType(payload[0])
	gotVal, err := wire.DecodeValue(bytes.NewReader(payload[1:]), gotType)
	require.NoError(t, err)
	assert.Equal(t, uint32(55), gotVal.Uint32())

	<-done
}

func TestWriteResponseHeaderOnly(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go writeResponse(server, wire.ResponseHeader{Code: wire.ENOENT, TxnID: 4})

	hdr, err := wire.ReadResponseHeader(client)
	require.NoError(t, err)
	assert.Equal(t, wire.ENOENT, hdr.Code)
	assert.Equal(t, uint32(4), hdr.TxnID)
	assert.Equal(t, uint32(0), hdr.PayloadLen)
}
