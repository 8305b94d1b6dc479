package engine

import "github.com/varserverd/varserver/internal/wire"

// NotifyEvent is what the engine hands to a client's NotifySink when
// dispatching a notification (spec.md §4.3).
type NotifyEvent struct {
	Kind    wire.NotifyKind
	Handle  Handle     // the handle as originally requested by the subscriber
	TxnID   uint32     // set for CALC/VALIDATE/PRINT, the transaction-bearing kinds
	Payload wire.Value // the new value, for MODIFIED/MODIFIED_QUEUE
}

// NotifySink is the transport-side delivery channel for a client's
// asynchronous notifications — the NOTIFY connection of spec.md §4.8.
// It is the only way the engine reaches outside of its own goroutine,
// and Deliver must never block: a slow subscriber must not stall the
// single dispatch loop (spec.md §5). Implementations queue the event
// and return immediately, or are themselves called from a bounded
// worker pool (see internal/engine/notifyworkers.go).
type NotifySink interface {
	// Deliver attempts to hand ev to the client. It returns wire.ESRCH
	// if the client's NOTIFY channel is gone, so the caller can
	// tombstone the subscription (spec.md §3, §4.3).
	Deliver(ev NotifyEvent) wire.Errno
}

// clientRecord is the per-client bookkeeping of spec.md §3: identity,
// the client's resolved OS UID for permission checks, its negotiated
// working buffer size, whether it is currently on the blocked queue,
// a count of the validate/calc/print transactions it has originated
// (other requests do not change it), and its debug level.
type clientRecord struct {
	id         uint32
	uid        uint32
	bufSize    int
	sink       NotifySink
	blocked    bool
	txnCount   uint32
	debugLevel int
}

// clientRegistry allocates client IDs 1..max and returns freed IDs to a
// free list before minting new ones (C8).
type clientRegistry struct {
	byID   map[uint32]*clientRecord
	free   []uint32
	nextID uint32
	max    int
}

func newClientRegistry(max int) *clientRegistry {
	return &clientRegistry{
		byID:   make(map[uint32]*clientRecord, max),
		nextID: 1,
		max:    max,
	}
}

// open allocates a client record (C10 OPEN).
func (c *clientRegistry) open(sink NotifySink, uid uint32, bufSize int) (*clientRecord, wire.Errno) {
	if len(c.byID) >= c.max {
		return nil, wire.ENOMEM
	}

	var id uint32
	if n := len(c.free); n > 0 {
		id = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		id = c.nextID
		c.nextID++
	}

	rec := &clientRecord{id: id, uid: uid, bufSize: bufSize, sink: sink}
	c.byID[id] = rec
	return rec, wire.EOK
}

// close releases id back to the free list (C10 CLOSE).
func (c *clientRegistry) close(id uint32) (*clientRecord, bool) {
	rec, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	delete(c.byID, id)
	c.free = append(c.free, id)
	return rec, true
}

func (c *clientRegistry) get(id uint32) (*clientRecord, bool) {
	rec, ok := c.byID[id]
	return rec, ok
}
