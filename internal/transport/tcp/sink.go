package tcp

import (
	"bytes"
	"net"

	"github.com/rs/zerolog"

	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/wire"
)

// connSink implements engine.NotifySink over a connection's NOTIFY
// channel (spec.md §4.8). Deliver never touches the socket directly —
// it enqueues onto a small buffered channel drained by a dedicated
// writer goroutine, so a slow reader stalls only its own connection,
// never the engine's dispatch goroutine (spec.md §5).
type connSink struct {
	conn   net.Conn
	log    zerolog.Logger
	events chan engine.NotifyEvent
	closed chan struct{}

	// drain, when set, is called with the handle of a MODIFIED_QUEUE
	// event once it has been written to the wire, so the engine can
	// clear that subscriber's pending flag and accept the next post
	// (spec.md §4.3 "dedup between consumer drains").
	drain func(engine.Handle)
}

func newConnSink(conn net.Conn, log zerolog.Logger, drain func(engine.Handle)) *connSink {
	s := &connSink{
		conn:   conn,
		log:    log,
		events: make(chan engine.NotifyEvent, 64),
		closed: make(chan struct{}),
		drain:  drain,
	}
	go s.writeLoop()
	return s
}

// Deliver implements engine.NotifySink. A full queue reports ESRCH so
// the engine tombstones the subscription rather than letting events
// pile up unbounded for a reader that stopped draining.
func (s *connSink) Deliver(ev engine.NotifyEvent) wire.Errno {
	select {
	case s.events <- ev:
		return wire.EOK
	case <-s.closed:
		return wire.ESRCH
	default:
		return wire.ESRCH
	}
}

// Close stops the writer goroutine. Safe to call once.
func (s *connSink) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *connSink) writeLoop() {
	for {
		select {
		case ev := <-s.events:
			if err := s.writeEvent(ev); err != nil {
				close(s.closed)
				return
			}
			if ev.Kind == wire.NotifyModifiedQueue && s.drain != nil {
				s.drain(ev.Handle)
			}
		case <-s.closed:
			return
		}
	}
}

// writeEvent encodes a NotifyEvent as a response-shaped frame: the
// notify kind rides in Result2, the originally requested handle in
// Result1, the transaction id (for CALC/VALIDATE/PRINT) in TxnID, and
// any payload value follows as the body.
func (s *connSink) writeEvent(ev engine.NotifyEvent) error {
	var buf bytes.Buffer
	if ev.Payload.Type.Valid() {
		buf.WriteByte(byte(ev.Payload.Type))
		ev.Payload.Encode(&buf)
	}

	hdr := wire.ResponseHeader{
		Code:       wire.Errno(ev.Kind),
		Result1:    uint64(ev.Handle),
		Result2:    uint64(ev.Kind),
		TxnID:      ev.TxnID,
		PayloadLen: uint32(buf.Len()),
	}
	if err := wire.WriteResponseHeader(s.conn, hdr); err != nil {
		return err
	}
	if buf.Len() > 0 {
		if _, err := s.conn.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
