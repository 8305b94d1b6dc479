package tcp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/varserverd/varserver/internal/admission"
	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/wire"
)

// gatherCounter reads the current value of a registered counter (or
// counter-vec series) straight off the process-wide default registry,
// since internal/metrics keeps its collectors package-private.
func gatherCounter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, m := range fam.GetMetric() {
			if labels != nil {
				match := true
				for _, lp := range m.GetLabel() {
					if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
						match = false
					}
				}
				if !match {
					continue
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total
	}
	return 0
}

// newTestServer starts a Server on an ephemeral loopback port with a
// NotifyPool-free engine (NotifySink is bound directly by transport
// connections, so no worker pool is needed in-process) and returns its
// address and engine; the server is stopped on test cleanup.
func newTestServer(t *testing.T, guard *admission.Guard) (string, *engine.Engine) {
	t.Helper()
	log := zerolog.Nop()
	eng := engine.New(engine.EngineConfig{}, log, nil)
	srv := New("127.0.0.1:0", eng, guard, 16, log)

	go srv.Run()
	t.Cleanup(srv.Stop)

	var addr string
	require.Eventually(t, func() bool {
		if srv.listener == nil {
			return false
		}
		addr = srv.listener.Addr().String()
		return true
	}, time.Second, 10*time.Millisecond)

	return addr, eng
}

func writeReq(t *testing.T, conn net.Conn, hdr wire.RequestHeader, payload []byte) {
	t.Helper()
	hdr.PayloadLen = uint32(len(payload))
	require.NoError(t, wire.WriteRequestHeader(conn, hdr))
	if len(payload) > 0 {
		_, err := conn.Write(payload)
		require.NoError(t, err)
	}
}

func readResp(t *testing.T, conn net.Conn) (wire.ResponseHeader, []byte) {
	t.Helper()
	hdr, err := wire.ReadResponseHeader(conn)
	require.NoError(t, err)
	var payload []byte
	if hdr.PayloadLen > 0 {
		payload = make([]byte, hdr.PayloadLen)
		_, err := conn.Read(payload)
		require.NoError(t, err)
	}
	return hdr, payload
}

// TestMalformedSetSurvivesConnection is the end-to-end counterpart of
// TestDecodeRequestSetEmptyPayloadIsEinval: a zero-length SET payload
// must return EINVAL and the connection must still answer the next,
// well-formed request rather than dying to an unrecovered panic.
func TestMalformedSetSurvivesConnection(t *testing.T) {
	addr, _ := newTestServer(t, nil)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	writeReq(t, conn, wire.RequestHeader{Kind: wire.Set, Arg1: 1, Arg2: 1, ClientID: 1}, nil)
	hdr, _ := readResp(t, conn)
	require.Equal(t, wire.EINVAL, hdr.Code)

	writeReq(t, conn, wire.RequestHeader{Kind: wire.Echo, Arg1: 7, ClientID: 1}, nil)
	hdr2, _ := readResp(t, conn)
	require.Equal(t, wire.EOK, hdr2.Code, "connection must survive a malformed frame and keep answering")
	require.Equal(t, uint64(7), hdr2.Result2)
}

// TestDispatchLoopWiresRequestMetrics is the transport-level
// counterpart of internal/metrics's unit tests: it proves
// metrics.RequestObserved is actually invoked from dispatchLoop for a
// live request, not merely registered and left at zero.
func TestDispatchLoopWiresRequestMetrics(t *testing.T) {
	addr, _ := newTestServer(t, nil)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	before := gatherCounter(t, "varserver_requests_by_kind_total", map[string]string{"kind": "ECHO"})

	writeReq(t, conn, wire.RequestHeader{Kind: wire.Echo, Arg1: 1, ClientID: 1}, nil)
	hdr, _ := readResp(t, conn)
	require.Equal(t, wire.EOK, hdr.Code)

	after := gatherCounter(t, "varserver_requests_by_kind_total", map[string]string{"kind": "ECHO"})
	require.Equal(t, before+1, after, "dispatchLoop must record every dispatched request against the per-kind counter")
}

// TestRateLimitedRequestGetsEBUSY exercises the server.go fix that
// replaced EINPROGRESS with EBUSY for requests the admission guard
// throttles outright (they are never deferred onto any transaction, so
// EINPROGRESS would promise a completion that never arrives).
func TestRateLimitedRequestGetsEBUSY(t *testing.T) {
	guard := admission.New(admission.Config{MaxRequestsPerSecond: 1}, zerolog.Nop())
	addr, _ := newTestServer(t, guard)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	var last wire.ResponseHeader
	for i := 0; i < 10; i++ {
		writeReq(t, conn, wire.RequestHeader{Kind: wire.Echo, Arg1: uint64(i), ClientID: 1}, nil)
		last, _ = readResp(t, conn)
		if last.Code == wire.EBUSY {
			break
		}
	}
	require.Equal(t, wire.EBUSY, last.Code, "a throttled request must never be answered EINPROGRESS")
}

// TestNotifyModifiedQueueDrainEndToEnd verifies DrainQueue is actually
// wired through the transport: without the drain callback, a
// MODIFIED_QUEUE subscriber only ever receives one post for the whole
// connection lifetime regardless of how many SETs follow.
func TestNotifyModifiedQueueDrainEndToEnd(t *testing.T) {
	addr, _ := newTestServer(t, nil)

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	writeReq(t, client, wire.RequestHeader{Kind: wire.Open, Arg1: 4096, Arg2: 1000}, nil)
	openResp, _ := readResp(t, client)
	require.Equal(t, wire.EOK, openResp.Code)
	clientID := uint32(openResp.Result1)

	var newPayload []byte
	newPayload = append(newPayload, byte(wire.TypeUint32))
	newPayload = appendU32(newPayload, 0) // instanceID
	newPayload = appendU32(newPayload, 0) // flags
	newPayload = appendU16(newPayload, 0) // format len
	name := "/queue/x"
	newPayload = appendU16(newPayload, uint16(len(name)))
	newPayload = append(newPayload, name...)
	newPayload = appendU16(newPayload, 0) // read UID count
	newPayload = appendU16(newPayload, 0) // write UID count
	newPayload = appendU32(newPayload, 1) // initial value

	writeReq(t, client, wire.RequestHeader{Kind: wire.New, ClientID: clientID}, newPayload)
	newResp, _ := readResp(t, client)
	require.Equal(t, wire.EOK, newResp.Code)
	handle := uint64(newResp.Result1)

	notifyConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer notifyConn.Close()
	writeReq(t, notifyConn, wire.RequestHeader{Kind: wire.Notify, Arg1: uint64(clientID)}, nil)
	bindResp, _ := readResp(t, notifyConn)
	require.Equal(t, wire.EOK, bindResp.Code)

	writeReq(t, client, wire.RequestHeader{Kind: wire.Notify, ClientID: clientID, Arg1: handle, Arg2: uint64(wire.NotifyModifiedQueue)}, nil)
	subResp, _ := readResp(t, client)
	require.Equal(t, wire.EOK, subResp.Code)

	setOne := append([]byte{byte(wire.TypeUint32)}, u32Bytes(2)...)
	writeReq(t, client, wire.RequestHeader{Kind: wire.Set, ClientID: clientID, Arg1: handle}, setOne)
	setOneResp, _ := readResp(t, client)
	require.Equal(t, wire.EOK, setOneResp.Code)

	notifyConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	evt1, err := wire.ReadResponseHeader(notifyConn)
	require.NoError(t, err, "first MODIFIED_QUEUE post must be delivered")
	drainPayload(t, notifyConn, evt1)

	setTwo := append([]byte{byte(wire.TypeUint32)}, u32Bytes(3)...)
	writeReq(t, client, wire.RequestHeader{Kind: wire.Set, ClientID: clientID, Arg1: handle}, setTwo)
	setTwoResp, _ := readResp(t, client)
	require.Equal(t, wire.EOK, setTwoResp.Code)

	notifyConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	evt2, err := wire.ReadResponseHeader(notifyConn)
	require.NoError(t, err, "a second post must arrive once DrainQueue clears the pending flag after the first is flushed")
	drainPayload(t, notifyConn, evt2)
}

func drainPayload(t *testing.T, conn net.Conn, hdr wire.ResponseHeader) {
	t.Helper()
	if hdr.PayloadLen == 0 {
		return
	}
	buf := make([]byte, hdr.PayloadLen)
	_, err := conn.Read(buf)
	require.NoError(t, err)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func u32Bytes(v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return tmp[:]
}
