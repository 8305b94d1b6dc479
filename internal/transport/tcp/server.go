// Package tcp is the reference connection multiplexer of spec.md §4.8 /
// §9: a raw TCP frontend driving the engine's single dispatch goroutine.
// Structured after the connection server's accept-loop/lifecycle idiom
// (context+cancel+sync.WaitGroup, structured shutdown), adapted from a
// per-connection WebSocket upgrade to a per-connection binary frame
// reader feeding one shared job channel.
package tcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/varserverd/varserver/internal/admission"
	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/logging"
	"github.com/varserverd/varserver/internal/metrics"
	"github.com/varserverd/varserver/internal/wire"
)

// dispatchJob is one request queued onto the engine's single goroutine.
type dispatchJob struct {
	req  engine.Request
	done chan engine.Response
}

// drainJob clears a MODIFIED_QUEUE subscriber's pending flag once its
// connection has flushed the queued post onto the wire (spec.md §4.3).
// Routed through the same single dispatch goroutine as every other
// engine mutation (spec.md §5) rather than called directly from the
// connection's writer goroutine.
type drainJob struct {
	handle   engine.Handle
	clientID uint32
}

// Server accepts raw TCP connections and serializes every request onto
// one goroutine running Engine.Dispatch, satisfying the single-writer
// contract of spec.md §5.
type Server struct {
	addr    string
	eng     *engine.Engine
	guard   *admission.Guard
	log     zerolog.Logger

	listener net.Listener
	jobs     chan dispatchJob
	drains   chan drainJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server. jobQueueSize bounds how many in-flight requests
// may be queued for the dispatch goroutine before callers block.
func New(addr string, eng *engine.Engine, guard *admission.Guard, jobQueueSize int, log zerolog.Logger) *Server {
	if jobQueueSize <= 0 {
		jobQueueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		eng:    eng,
		guard:  guard,
		log:    log,
		jobs:   make(chan dispatchJob, jobQueueSize),
		drains: make(chan drainJob, jobQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the listener, the single dispatch goroutine, and blocks
// until the server is stopped.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp: listen: %w", err)
	}
	s.listener = ln
	s.log.Info().Str("addr", s.addr).Msg("varserver listening")

	s.wg.Add(1)
	go s.dispatchLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	<-s.ctx.Done()
	return nil
}

// Stop closes the listener and waits for the accept and dispatch
// goroutines to exit.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

// dispatchLoop is the single-threaded cooperative core of spec.md §5:
// one goroutine, one request processed to completion before the next.
func (s *Server) dispatchLoop() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.log, "dispatchLoop", nil)
	for {
		select {
		case job := <-s.jobs:
			metrics.RequestObserved(job.req.Kind.String())
			resp := s.eng.Dispatch(job.req)
			job.done <- resp
		case d := <-s.drains:
			s.eng.DrainQueue(d.handle, d.clientID)
		case <-s.ctx.Done():
			return
		}
	}
}

// submit hands req to the dispatch goroutine and waits for its
// Response. Any goroutine may call submit concurrently; only the
// dispatch goroutine itself ever touches engine state.
func (s *Server) submit(req engine.Request) engine.Response {
	done := make(chan engine.Response, 1)
	select {
	case s.jobs <- dispatchJob{req: req, done: done}:
	case <-s.ctx.Done():
		return engine.Response{Code: wire.ESTRPIPE}
	}
	select {
	case resp := <-done:
		return resp
	case <-s.ctx.Done():
		return engine.Response{Code: wire.ESTRPIPE}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.log, "acceptLoop", nil)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.log.Error().Err(err).Msg("tcp: accept failed")
				return
			}
		}

		if s.guard != nil {
			source := conn.RemoteAddr().String()
			if ok, reason := s.guard.AllowConnect(source); !ok {
				metrics.AdmissionRejected(reason)
				s.log.Debug().Str("reason", reason).Msg("tcp: connection rejected by admission guard")
				conn.Close()
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// connState mirrors spec.md §4.8's UNKNOWN/CLIENT/NOTIFY states.
type connState int

const (
	stateUnknown connState = iota
	stateClient
	stateNotify
)

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.log, "handleConn", map[string]any{"remote": conn.RemoteAddr().String()})
	defer func() {
		if s.guard != nil {
			s.guard.ReleaseConnect()
		}
	}()
	defer conn.Close()

	state := stateUnknown
	var clientID uint32
	var sink *connSink
	var writeMu sync.Mutex

	lockedWrite := func(hdr wire.ResponseHeader) {
		writeMu.Lock()
		defer writeMu.Unlock()
		writeResponse(conn, hdr)
	}
	lockedWriteValue := func(resp engine.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		writeResponseWithValue(conn, resp)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		hdr, err := wire.ReadRequestHeader(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("tcp: connection read error, closing")
			}
			break
		}

		var payload []byte
		if hdr.PayloadLen > 0 {
			payload = make([]byte, hdr.PayloadLen)
			if _, err := io.ReadFull(conn, payload); err != nil {
				break
			}
		}

		req, werr := decodeRequest(hdr, payload, clientID)
		if werr != wire.EOK {
			lockedWrite(wire.ResponseHeader{Code: werr})
			continue
		}
		if hdr.Kind == wire.Print {
			req.Writer = conn
		}
		// OnComplete lets a deferred calc/validate/print transaction
		// reach this connection later, from the dispatch goroutine,
		// once its peer resolves it (spec.md §5 "schedule the
		// unblocked client for response-send on the next loop
		// iteration"). writeMu keeps that asynchronous write from
		// interleaving with whatever this connection is writing for
		// its next request at the same time.
		req.OnComplete = lockedWriteValue

		if hdr.Kind == wire.Notify && state == stateUnknown {
			bindID := uint32(hdr.Arg1)
			sink = newConnSink(conn, s.log, func(h engine.Handle) {
				select {
				case s.drains <- drainJob{handle: h, clientID: bindID}:
				case <-s.ctx.Done():
				}
			})
			if err := s.eng.BindSink(bindID, sink); err != wire.EOK {
				lockedWrite(wire.ResponseHeader{Code: err})
				break
			}
			clientID = bindID
			state = stateNotify
			lockedWrite(wire.ResponseHeader{Code: wire.EOK})
			continue
		}

		if s.guard != nil && !s.guard.AllowRequest() {
			metrics.AdmissionRejected("request rate limit")
			// EBUSY, not EINPROGRESS: this request was never deferred
			// onto the blocked queue, so nothing will ever complete it.
			// EINPROGRESS promises a later completion (spec.md §5); a
			// throttled request gets none, so it must not use that code.
			lockedWrite(wire.ResponseHeader{Code: wire.EBUSY})
			continue
		}

		resp := s.submit(req)

		if hdr.Kind == wire.Open && resp.Code == wire.EOK {
			clientID = uint32(resp.Handle)
			state = stateClient
		}
		if hdr.Kind == wire.Close {
			lockedWriteValue(resp)
			break
		}

		lockedWriteValue(resp)
	}

	if sink != nil {
		sink.Close()
	}
	if state == stateClient && clientID != 0 {
		s.submit(engine.Request{ClientID: clientID, Kind: wire.Close})
	}
}
