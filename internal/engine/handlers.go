package engine

import (
	"strings"

	"github.com/varserverd/varserver/internal/wire"
)

// handleGet implements GET (spec.md §4.2, §4.6): resolve, check the
// read ACL, then — if a CALC subscriber exists and is not the reader —
// defer via the calc flow (spec.md §4.4).
func (e *Engine) handleGet(req Request) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	if !vs.perms.CanRead(req.UID) {
		return Response{Code: wire.EACCES}
	}

	if n := vs.unique(wire.NotifyCalc); n != nil && n.clientID != req.ClientID {
		return e.deferToCalc(req, vs, n)
	}

	return Response{Code: wire.EOK, Value: vs.value.Clone()}
}

// handleSet implements SET (spec.md §4.2, §4.6): resolve, check the
// write ACL, then — if a VALIDATE subscriber exists and is not the
// setter — defer via the validate flow (spec.md §4.4); otherwise commit
// directly and fan out MODIFIED/MODIFIED_QUEUE.
func (e *Engine) handleSet(req Request) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	if !vs.perms.CanWrite(req.UID) {
		return Response{Code: wire.EACCES}
	}
	if req.Value.Type != vs.value.Type {
		return Response{Code: wire.EINVAL}
	}

	if n := vs.unique(wire.NotifyValidate); n != nil && n.clientID != req.ClientID {
		return e.deferToValidate(req, vs, n)
	}

	e.commitSet(vs, req.Value, req.ClientID, 0)
	return Response{Code: wire.EOK}
}

// commitSet writes newValue into vs and fans out notifications
// immediately after, in registration order (spec.md §5 Ordering
// guarantees). triggeringClient never receives its own CALC/VALIDATE/
// PRINT event for this SET (spec.md §4.3).
func (e *Engine) commitSet(vs *varStorage, newValue wire.Value, triggeringClient uint32, txnID uint32) {
	vs.value = newValue.Clone()
	vs.flags |= FlagDirty
	e.fanoutModified(vs, triggeringClient)
	e.completeCalcReaders(vs, triggeringClient)
}

// fanoutModified delivers MODIFIED to every registered subscriber and
// MODIFIED_QUEUE to every subscriber not already carrying an
// undelivered post (spec.md §4.3, §8 property 6-7).
func (e *Engine) fanoutModified(vs *varStorage, triggeringClient uint32) {
	for n := vs.notifications; n != nil; n = n.next {
		switch n.kind {
		case wire.NotifyModified:
			ev := NotifyEvent{Kind: wire.NotifyModified, Handle: n.reqHandle, Payload: vs.value.Clone()}
			if err := e.deliver(n.clientID, ev); err == wire.ESRCH {
				n.kind = wire.NotifyNone
			}
		case wire.NotifyModifiedQueue:
			if n.pending {
				continue
			}
			ev := NotifyEvent{Kind: wire.NotifyModifiedQueue, Handle: n.reqHandle, Payload: vs.value.Clone()}
			if err := e.deliver(n.clientID, ev); err == wire.ESRCH {
				n.kind = wire.NotifyNone
			} else {
				n.pending = true
			}
		}
	}
	vs.recomputeMask()
}

// DrainQueue clears a MODIFIED_QUEUE subscriber's pending flag, letting
// the next SET post again (spec.md §4.3 "dedup between consumer
// drains"). The reference transport calls this once it has flushed a
// queued notification onto the client's NOTIFY channel.
func (e *Engine) DrainQueue(handle Handle, clientID uint32) wire.Errno {
	vs, err := e.store.resolve(handle)
	if err != wire.EOK {
		return wire.ENOENT
	}
	for n := vs.notifications; n != nil; n = n.next {
		if n.kind == wire.NotifyModifiedQueue && n.clientID == clientID {
			n.pending = false
			return wire.EOK
		}
	}
	return wire.ENOENT
}

// completeCalcReaders unblocks every reader queued on vs's calc flow
// once the calculator commits a value via SET (spec.md §4.4 "If
// multiple readers are queued, all are unblocked by the single
// calculator SET").
func (e *Engine) completeCalcReaders(vs *varStorage, triggeringClient uint32) {
	for _, txn := range e.txns.findByHandleKind(vs.handle, txnCalc) {
		e.txns.remove(txn.id)
		e.blocked.pop(txn.requestor)
		if rec, ok := e.clients.get(txn.requestor); ok {
			rec.blocked = false
		}
		if txn.onComplete != nil {
			txn.onComplete(Response{Code: wire.EOK, Value: vs.value.Clone(), TxnID: txn.id})
		}
	}
}

type metaKind int

const (
	metaType metaKind = iota
	metaName
	metaLength
	metaFlags
	metaInfo
)

// handleMeta implements TYPE/NAME/LENGTH/FLAGS/INFO (spec.md §4.2,
// §4.6): metadata reads, no ACL check beyond handle resolution.
func (e *Engine) handleMeta(req Request, kind metaKind) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	switch kind {
	case metaType:
		return Response{Code: wire.EOK, Value: wire.Value{Type: vs.value.Type}}
	case metaName:
		return Response{Code: wire.EOK, Name: vs.name}
	case metaLength:
		return Response{Code: wire.EOK, Echo: uint32(vs.value.Len())}
	case metaFlags:
		return Response{Code: wire.EOK, Flags: vs.flags}
	case metaInfo:
		return Response{Code: wire.EOK, Name: vs.name, Flags: vs.flags, Value: vs.value.Clone()}
	default:
		return Response{Code: wire.EINVAL}
	}
}

// handleFlagsOp implements SET_FLAGS/CLEAR_FLAGS: OR or AND-complement
// the mask into the variable's flags (spec.md §4.6). A zero Handle has
// no variable to target, so it instead toggles the calling client's own
// debug level (spec.md §3 Client record; SET_FLAGS-style in-band toggle
// on the client's pseudo-handle-less state).
func (e *Engine) handleFlagsOp(req Request, set bool) Response {
	if req.Handle == InvalidHandle {
		rec, ok := e.clients.get(req.ClientID)
		if !ok {
			return Response{Code: wire.ESRCH}
		}
		if set {
			rec.debugLevel |= int(req.Mask)
		} else {
			rec.debugLevel &^= int(req.Mask)
		}
		return Response{Code: wire.EOK, Flags: Flags(rec.debugLevel)}
	}

	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	if set {
		vs.flags |= req.Mask
	} else {
		vs.flags &^= req.Mask
	}
	return Response{Code: wire.EOK, Flags: vs.flags}
}

// handleNotify implements NOTIFY (spec.md §4.3, §4.6).
func (e *Engine) handleNotify(req Request) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	code := vs.register(req.NotifyKind, req.ClientID, req.Handle)
	return Response{Code: code}
}

// handleNotifyCancel implements NOTIFY_CANCEL (spec.md §4.6).
func (e *Engine) handleNotifyCancel(req Request) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	code := vs.cancel(req.NotifyKind, req.ClientID)
	return Response{Code: code}
}

// handleGetFirst implements GET_FIRST (spec.md §4.6, §4.7): takes a
// fresh snapshot of matching handles and returns the first.
//
// Query-based filtering (name substring / instance / flags / tags) is
// applied at snapshot time via matchesQuery; an unfiltered Query selects
// every canonical variable.
func (e *Engine) handleGetFirst(req Request) Response {
	it := &iterator{handles: e.queryHandles(req.Query)}
	e.iters.byClient[req.ClientID] = it
	return e.advanceIterator(req, it)
}

// handleGetNext implements GET_NEXT (spec.md §4.6, §4.7).
func (e *Engine) handleGetNext(req Request) Response {
	it, ok := e.iters.byClient[req.ClientID]
	if !ok {
		return Response{Code: wire.ESRCH}
	}
	return e.advanceIterator(req, it)
}

// advanceIterator returns the next snapshotted handle, deferring via
// the calc flow if it has an active calculator the iterating client
// isn't (spec.md §4.7).
func (e *Engine) advanceIterator(req Request, it *iterator) Response {
	for {
		h, err := e.iters.advance(e.store, it)
		if err != wire.EOK {
			return Response{Code: err}
		}
		vs, rerr := e.store.resolve(h)
		if rerr != wire.EOK {
			continue
		}
		if n := vs.unique(wire.NotifyCalc); n != nil && n.clientID != req.ClientID {
			return e.deferToCalc(req, vs, n)
		}
		return Response{Code: wire.EOK, Handle: h, Value: vs.value.Clone(), Name: vs.name}
	}
}

func (e *Engine) queryHandles(q Query) []Handle {
	all := e.store.allCanonicalHandles()
	if q.NameSubstring == "" && !q.HasInstanceID && q.FlagMask == 0 && q.TagMask == 0 {
		return all
	}
	out := all[:0:0]
	for _, h := range all {
		vs, err := e.store.resolve(h)
		if err != wire.EOK {
			continue
		}
		if !matchesQuery(vs, q) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func matchesQuery(vs *varStorage, q Query) bool {
	if q.NameSubstring != "" && !strings.Contains(vs.name, q.NameSubstring) {
		return false
	}
	if q.HasInstanceID && vs.instanceID != q.InstanceID {
		return false
	}
	if q.FlagMask != 0 && vs.flags&q.FlagMask == 0 {
		return false
	}
	if q.TagMask != 0 {
		matched := false
		for _, t := range vs.tags {
			if uint16(1<<(t%16))&q.TagMask != 0 {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
