package engine

import "github.com/varserverd/varserver/internal/wire"

// C11: the three transaction flows — validate, calc, print — mediating
// between the client that issued GET/SET/PRINT and the subscriber that
// services it (spec.md §4.4).

// deferToValidate implements the validate flow's setter side (spec.md
// §4.4 step 1-2): the setter is blocked and the validator is told.
func (e *Engine) deferToValidate(req Request, vs *varStorage, validator *notification) Response {
	txn, err := e.txns.new(txnValidate, req.ClientID, vs.handle, req.OnComplete)
	if err != wire.EOK {
		return Response{Code: err}
	}
	txn.proposed = req.Value.Clone()

	e.blocked.push(req.ClientID, reasonNotifyValidate, vs.handle, txn.id)
	if rec, ok := e.clients.get(req.ClientID); ok {
		rec.blocked = true
		rec.txnCount++
	}

	ev := NotifyEvent{Kind: wire.NotifyValidate, Handle: validator.reqHandle, TxnID: txn.id}
	if err := e.deliver(validator.clientID, ev); err == wire.ESRCH {
		validator.kind = wire.NotifyNone
		vs.recomputeMask()
		e.txns.remove(txn.id)
		e.blocked.pop(req.ClientID)
		if rec, ok := e.clients.get(req.ClientID); ok {
			rec.blocked = false
		}
		e.commitSet(vs, req.Value, req.ClientID, 0)
		return Response{Code: wire.EOK}
	}

	return Response{Code: wire.EINPROGRESS, TxnID: txn.id}
}

// handleGetValidationRequest implements GET_VALIDATION_REQUEST (spec.md
// §4.4 step 3): the validator retrieves the proposed value.
func (e *Engine) handleGetValidationRequest(req Request) Response {
	txn, ok := e.txns.get(req.TxnID)
	if !ok || txn.kind != txnValidate {
		return Response{Code: wire.ENOENT}
	}
	return Response{Code: wire.EOK, Value: txn.proposed.Clone(), Handle: txn.handle, TxnID: txn.id}
}

// handleSendValidationResponse implements SEND_VALIDATION_RESPONSE
// (spec.md §4.4 step 4): on OK, commit the proposed value and fan out
// MODIFIED; on any other code, leave the store untouched. Either way the
// setter is unblocked with that result.
func (e *Engine) handleSendValidationResponse(req Request) Response {
	txn, ok := e.txns.remove(req.TxnID)
	if !ok || txn.kind != txnValidate {
		return Response{Code: wire.ENOENT}
	}

	e.blocked.pop(txn.requestor)
	if rec, ok := e.clients.get(txn.requestor); ok {
		rec.blocked = false
	}

	result := req.ValidationResult
	if result == wire.EOK {
		if vs, err := e.store.resolve(txn.handle); err == wire.EOK {
			e.commitSet(vs, txn.proposed, txn.requestor, txn.id)
		}
	}

	if txn.onComplete != nil {
		txn.onComplete(Response{Code: result, TxnID: txn.id})
	}
	return Response{Code: wire.EOK}
}

// deferToCalc implements the calc flow's reader side (spec.md §4.4):
// the reader blocks and the calculator is notified; completeCalcReaders
// resolves it once the calculator SETs.
func (e *Engine) deferToCalc(req Request, vs *varStorage, calculator *notification) Response {
	txn, err := e.txns.new(txnCalc, req.ClientID, vs.handle, req.OnComplete)
	if err != wire.EOK {
		return Response{Code: err}
	}

	e.blocked.push(req.ClientID, reasonNotifyCalc, vs.handle, txn.id)
	if rec, ok := e.clients.get(req.ClientID); ok {
		rec.blocked = true
		rec.txnCount++
	}

	ev := NotifyEvent{Kind: wire.NotifyCalc, Handle: calculator.reqHandle, TxnID: txn.id}
	if err := e.deliver(calculator.clientID, ev); err == wire.ESRCH {
		calculator.kind = wire.NotifyNone
		vs.recomputeMask()
		e.txns.remove(txn.id)
		e.blocked.pop(req.ClientID)
		if rec, ok := e.clients.get(req.ClientID); ok {
			rec.blocked = false
		}
		return Response{Code: wire.EOK, Value: vs.value.Clone()}
	}

	return Response{Code: wire.EINPROGRESS, TxnID: txn.id}
}

// handlePrint implements PRINT (spec.md §4.4, §4.6): if a PRINT
// subscriber exists, delegate rendering to it via a transaction;
// otherwise render inline using the variable's format specifier.
func (e *Engine) handlePrint(req Request) Response {
	vs, err := e.store.resolve(req.Handle)
	if err != wire.EOK {
		return Response{Code: wire.ENOENT}
	}
	if !vs.perms.CanRead(req.UID) {
		return Response{Code: wire.EACCES}
	}

	if n := vs.unique(wire.NotifyPrint); n != nil && n.clientID != req.ClientID {
		txn, terr := e.txns.new(txnPrint, req.ClientID, vs.handle, req.OnComplete)
		if terr != wire.EOK {
			return Response{Code: terr}
		}
		txn.writer = req.Writer

		e.blocked.push(req.ClientID, reasonNotifyPrint, vs.handle, txn.id)
		if rec, ok := e.clients.get(req.ClientID); ok {
			rec.blocked = true
			rec.txnCount++
		}

		pev := NotifyEvent{Kind: wire.NotifyPrint, Handle: n.reqHandle, TxnID: txn.id}
		if derr := e.deliver(n.clientID, pev); derr == wire.ESRCH {
			n.kind = wire.NotifyNone
			vs.recomputeMask()
			e.txns.remove(txn.id)
			e.blocked.pop(req.ClientID)
			if rec, ok := e.clients.get(req.ClientID); ok {
				rec.blocked = false
			}
		} else {
			return Response{Code: wire.EINPROGRESS, TxnID: txn.id}
		}
	}

	if req.Writer == nil {
		return Response{Code: wire.ESTRPIPE}
	}
	rendered := renderValue(vs.value, vs.format)
	if _, werr := req.Writer.Write(rendered); werr != nil {
		return Response{Code: wire.ESTRPIPE}
	}
	return Response{Code: wire.EOK}
}

// handleOpenPrintSession implements OPEN_PRINT_SESSION (spec.md §4.4
// step): the print subscriber learns which handle the transaction is
// for. Only the handle and transaction id are returned; the requester's
// descriptor stays on the transaction and is not passed to the
// subscriber.
func (e *Engine) handleOpenPrintSession(req Request) Response {
	txn, ok := e.txns.get(req.TxnID)
	if !ok || txn.kind != txnPrint {
		return Response{Code: wire.ENOENT}
	}
	return Response{Code: wire.EOK, Handle: txn.handle, TxnID: txn.id}
}

// handleClosePrintSession implements CLOSE_PRINT_SESSION (spec.md §4.4):
// the subscriber is done writing; unblock the original requester.
func (e *Engine) handleClosePrintSession(req Request) Response {
	txn, ok := e.txns.remove(req.TxnID)
	if !ok || txn.kind != txnPrint {
		return Response{Code: wire.ENOENT}
	}
	e.blocked.pop(txn.requestor)
	if rec, ok := e.clients.get(txn.requestor); ok {
		rec.blocked = false
	}
	if txn.onComplete != nil {
		txn.onComplete(Response{Code: wire.EOK, TxnID: txn.id})
	}
	return Response{Code: wire.EOK}
}

// renderValue formats v per a printf-style specifier, or a type default
// when format is empty (spec.md §4.4 "a type-default specifier").
func renderValue(v wire.Value, format string) []byte {
	s := v.StringOrDefault(format)
	return []byte(s)
}
