package engine

import (
	"math"

	"github.com/varserverd/varserver/internal/wire"
)

// txnKind identifies which of the three orchestrator flows a
// transaction belongs to (spec.md §4.4).
type txnKind uint8

const (
	txnValidate txnKind = iota
	txnCalc
	txnPrint
)

// transaction is the mediated multi-party exchange record of spec.md
// §3: a monotonic ID, the requestor, the variable handle, and an
// "opaque pointer to the requestor's in-flight state" — here a
// completion callback the engine invokes once the peer resolves the
// transaction, plus whatever flow-specific state that callback needs.
type transaction struct {
	id        uint32
	kind      txnKind
	requestor uint32 // client id blocked on this transaction
	handle    Handle
	onComplete func(Response)

	proposed wire.Value // txnValidate: the value awaiting commit
	writer   printWriter // txnPrint: the requester's output descriptor
}

// printWriter is the minimal surface PRINT needs from the requester's
// descriptor; kept as an interface so tests never need a real file.
type printWriter interface {
	Write(p []byte) (int, error)
}

// transactionTable is the active-transactions index (C6). A transaction
// ID is present iff exactly one client is blocked awaiting its
// completion (spec.md §3 invariant).
type transactionTable struct {
	byID   map[uint32]*transaction
	nextID uint32
}

func newTransactionTable() *transactionTable {
	return &transactionTable{byID: make(map[uint32]*transaction), nextID: 1}
}

// new assigns the next transaction ID and registers t (C6 new).
// Per spec.md §9's open question on wraparound, once the counter
// reaches its maximum, further transactions are refused until the
// active table fully drains.
func (t *transactionTable) new(kind txnKind, requestor uint32, handle Handle, onComplete func(Response)) (*transaction, wire.Errno) {
	if t.nextID == 0 {
		if len(t.byID) > 0 {
			return nil, wire.ENOMEM
		}
		t.nextID = 1
	}

	id := t.nextID
	if t.nextID == math.MaxUint32 {
		t.nextID = 0 // forces the drain check above on the next call
	} else {
		t.nextID++
	}

	txn := &transaction{id: id, kind: kind, requestor: requestor, handle: handle, onComplete: onComplete}
	t.byID[id] = txn
	return txn, wire.EOK
}

func (t *transactionTable) get(id uint32) (*transaction, bool) {
	txn, ok := t.byID[id]
	return txn, ok
}

func (t *transactionTable) remove(id uint32) (*transaction, bool) {
	txn, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	return txn, ok
}

// findByRequestor returns every transaction the given client originated,
// used when sweeping a disconnecting client's in-flight state.
func (t *transactionTable) findByRequestor(clientID uint32) []*transaction {
	var out []*transaction
	for _, txn := range t.byID {
		if txn.requestor == clientID {
			out = append(out, txn)
		}
	}
	return out
}

// findByHandleKind returns every transaction of the given kind blocked
// on handle — used by the calc flow, where a single SET from the
// calculator must unblock every queued reader (spec.md §4.4).
func (t *transactionTable) findByHandleKind(handle Handle, kind txnKind) []*transaction {
	var out []*transaction
	for _, txn := range t.byID {
		if txn.handle == handle && txn.kind == kind {
			out = append(out, txn)
		}
	}
	return out
}
