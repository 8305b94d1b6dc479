package engine

import (
	"github.com/varserverd/varserver/internal/wire"
)

// Query selects variables for GET_FIRST/GET_NEXT (spec.md §4.7). A zero
// field is a wildcard for that selector.
type Query struct {
	NameSubstring string
	InstanceID    uint32
	HasInstanceID bool
	FlagMask      Flags
	TagMask       uint16
}

// Request is one dispatcher call (spec.md §4.6). Only the fields a
// given Kind needs are read; the rest are ignored.
type Request struct {
	ClientID uint32
	Kind     wire.RequestKind
	TxnID    uint32

	Handle Handle
	Name   string
	Value  wire.Value
	Mask   Flags
	Echo   uint32

	NotifyKind wire.NotifyKind

	ValidationResult wire.Errno

	BufSize int
	UID     uint32

	VarInfo VarInfo
	Query   Query

	Writer printWriter // PRINT's output descriptor

	// OnComplete is invoked by the dispatch goroutine, on a later call,
	// with the final Response once a deferred transaction this request
	// created resolves (spec.md §5 "peer completions... schedule the
	// unblocked client for response-send on the next loop iteration").
	// Only consulted when Dispatch itself returns wire.EINPROGRESS;
	// transports that never defer may leave it nil.
	OnComplete func(Response)
}

// Response is the dispatcher's synchronous answer (spec.md §4.6, §6).
// A Code of wire.EINPROGRESS means the request is held on the blocked
// queue; the eventual completion arrives via the same Response shape
// through the transaction's onComplete callback.
type Response struct {
	Code    wire.Errno
	Handle  Handle
	Handles []Handle
	Value   wire.Value
	Name    string
	Flags   Flags
	TxnID   uint32
	Echo    uint32
}

// Dispatch is the engine's single entry point (C10). Callers — the
// connection multiplexer in the reference transport, or a test driving
// the engine directly — must serialize calls onto one goroutine
// (spec.md §5).
func (e *Engine) Dispatch(req Request) Response {
	e.bump(req.Kind)

	switch req.Kind {
	case wire.Open:
		return e.handleOpen(req)
	case wire.Close:
		return e.handleClose(req)
	case wire.Echo:
		return Response{Code: wire.EOK, Echo: req.Echo}
	case wire.New:
		return e.handleNew(req)
	case wire.Alias:
		return e.handleAlias(req)
	case wire.GetAliases:
		return e.handleGetAliases(req)
	case wire.Find:
		return e.handleFind(req)
	case wire.Get:
		return e.handleGet(req)
	case wire.Set:
		return e.handleSet(req)
	case wire.Type:
		return e.handleMeta(req, metaType)
	case wire.Name:
		return e.handleMeta(req, metaName)
	case wire.Length:
		return e.handleMeta(req, metaLength)
	case wire.Flags:
		return e.handleMeta(req, metaFlags)
	case wire.Info:
		return e.handleMeta(req, metaInfo)
	case wire.SetFlags:
		return e.handleFlagsOp(req, true)
	case wire.ClearFlags:
		return e.handleFlagsOp(req, false)
	case wire.Notify:
		return e.handleNotify(req)
	case wire.NotifyCancel:
		return e.handleNotifyCancel(req)
	case wire.Print:
		return e.handlePrint(req)
	case wire.OpenPrintSession:
		return e.handleOpenPrintSession(req)
	case wire.ClosePrintSession:
		return e.handleClosePrintSession(req)
	case wire.GetValidationRequest:
		return e.handleGetValidationRequest(req)
	case wire.SendValidationResponse:
		return e.handleSendValidationResponse(req)
	case wire.GetFirst:
		return e.handleGetFirst(req)
	case wire.GetNext:
		return e.handleGetNext(req)
	default:
		return Response{Code: wire.EINVAL}
	}
}

func (e *Engine) handleOpen(req Request) Response {
	rec, err := e.clients.open(nil, req.UID, req.BufSize)
	if err != wire.EOK {
		return Response{Code: err}
	}
	return Response{Code: wire.EOK, Handle: Handle(rec.id)}
}

// BindSink attaches the transport's NOTIFY delivery channel to an
// already-open client (spec.md §4.8: the NOTIFY connection binds to an
// existing client id as a second step after OPEN).
func (e *Engine) BindSink(clientID uint32, sink NotifySink) wire.Errno {
	rec, ok := e.clients.get(clientID)
	if !ok {
		return wire.ESRCH
	}
	rec.sink = sink
	return wire.EOK
}

func (e *Engine) handleClose(req Request) Response {
	rec, ok := e.clients.close(req.ClientID)
	if !ok {
		return Response{Code: wire.ESRCH}
	}
	e.sweepClient(rec.id)
	return Response{Code: wire.EOK}
}

// sweepClient tears down everything a disconnecting client left behind
// (spec.md §3 Lifecycles, §5 Cancellation, §7): its subscriptions are
// tombstoned, its iterator is dropped, and any transaction it
// originated or was the sole peer for resolves its counterpart with
// ENOENT.
func (e *Engine) sweepClient(clientID uint32) {
	e.iters.close(clientID)

	for _, txn := range e.txns.findByRequestor(clientID) {
		e.txns.remove(txn.id)
	}

	// Peers waiting on a CALC/VALIDATE/PRINT subscription this client
	// held must be failed before tombstoneClient below erases the very
	// notification record that identifies them as the unique
	// subscriber (spec.md §4.4 "if the validator never responds and
	// disconnects... the setter is unblocked with ENOENT").
	for _, h := range e.store.allCanonicalHandles() {
		vs, err := e.store.resolve(h)
		if err != wire.EOK {
			continue
		}
		for _, kind := range []wire.NotifyKind{wire.NotifyCalc, wire.NotifyValidate, wire.NotifyPrint} {
			n := vs.unique(kind)
			if n != nil && n.clientID == clientID {
				e.failPeersOf(vs.handle, kind)
			}
		}
	}

	for _, vs := range e.store.canonical {
		vs.tombstoneClient(clientID)
	}
	delete(e.blocked.byClient, clientID)
}

// failPeersOf unblocks every client waiting on a transaction mediated by
// the subscriber of kind on handle, because that subscriber just
// disconnected (spec.md §5, §7).
func (e *Engine) failPeersOf(handle Handle, kind wire.NotifyKind) {
	var tk txnKind
	switch kind {
	case wire.NotifyValidate:
		tk = txnValidate
	case wire.NotifyCalc:
		tk = txnCalc
	case wire.NotifyPrint:
		tk = txnPrint
	default:
		return
	}
	for _, txn := range e.txns.findByHandleKind(handle, tk) {
		e.txns.remove(txn.id)
		e.blocked.pop(txn.requestor)
		if rec, ok := e.clients.get(txn.requestor); ok {
			rec.blocked = false
		}
		if txn.onComplete != nil {
			txn.onComplete(Response{Code: wire.ENOENT, TxnID: txn.id})
		}
	}
}

func (e *Engine) handleNew(req Request) Response {
	h, err := e.store.new(req.VarInfo)
	return Response{Code: err, Handle: h}
}

func (e *Engine) handleAlias(req Request) Response {
	h, err := e.store.addAlias(req.Handle, req.Name)
	return Response{Code: err, Handle: h}
}

func (e *Engine) handleGetAliases(req Request) Response {
	hs, err := e.store.getAliases(req.Handle)
	return Response{Code: err, Handles: hs}
}

func (e *Engine) handleFind(req Request) Response {
	h, err := e.store.find(req.Name)
	return Response{Code: err, Handle: h}
}
