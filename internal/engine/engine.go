package engine

import (
	"github.com/rs/zerolog"

	"github.com/varserverd/varserver/internal/wire"
)

// EngineConfig bounds the engine's fixed-capacity tables (spec.md §2,
// VARSERVER_MAX_VARIABLES / VARSERVER_MAX_CLIENTS).
type EngineConfig struct {
	MaxVariables int
	MaxClients   int
}

// Counters is the engine's view of /varserver/stats/*: per-op request
// counts and the live blocked-client gauge (spec.md §6). The sampler in
// cmd/varserverd reads it through Stats and publishes it via
// internal/metrics; the engine is its only writer,
// so no locking is needed as long as reads tolerate torn values (spec.md
// §5).
type Counters struct {
	PerOp         []uint64
	TotalRequests uint64
	Blocked       uint64
}

// Engine owns every piece of mutable server state named in spec.md §4
// and is touched exclusively by the goroutine calling Dispatch — no
// locks guard it internally (spec.md §5). Concurrent transports must
// serialize their calls onto a single goroutine (see
// internal/transport/tcp for the reference form).
type Engine struct {
	cfg EngineConfig
	log zerolog.Logger

	store   *store
	clients *clientRegistry
	txns    *transactionTable
	blocked *blockedQueue
	iters   *iteratorTable

	notifyDeliver func(clientID uint32, ev NotifyEvent) wire.Errno

	counters Counters
}

// New builds an Engine. deliver is how the engine reaches a client's
// NOTIFY channel; it must never block (spec.md §5) — pass a worker-pool
// backed fan-out such as NotifyPool.Deliver. A nil deliver hands events
// straight to the client's bound NotifySink.
func New(cfg EngineConfig, log zerolog.Logger, deliver func(clientID uint32, ev NotifyEvent) wire.Errno) *Engine {
	if cfg.MaxVariables <= 0 {
		cfg.MaxVariables = 4096
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 256
	}
	return &Engine{
		cfg:           cfg,
		log:           log,
		store:         newStore(cfg.MaxVariables),
		clients:       newClientRegistry(cfg.MaxClients),
		txns:          newTransactionTable(),
		blocked:       newBlockedQueue(),
		iters:         newIteratorTable(),
		notifyDeliver: deliver,
		counters:      Counters{PerOp: make([]uint64, wire.NumRequestKinds())},
	}
}

// Stats returns a point-in-time copy of the engine's counters.
func (e *Engine) Stats() Counters {
	c := e.counters
	c.PerOp = append([]uint64(nil), e.counters.PerOp...)
	c.Blocked = uint64(e.blocked.count())
	return c
}

// ActiveClients returns the number of currently open clients, for the
// metrics gauge (spec.md §6).
func (e *Engine) ActiveClients() int {
	return len(e.clients.byID)
}

// VariablesTotal returns the number of live canonical variables.
func (e *Engine) VariablesTotal() int {
	return len(e.store.canonical)
}

// TransactionsActive returns the number of open validate/calc/print
// transactions (C6).
func (e *Engine) TransactionsActive() int {
	return len(e.txns.byID)
}

// ClientTransactionCount returns how many validate/calc/print
// transactions clientID has originated over its lifetime — spec.md §3's
// Client record "transaction counter" — and whether the client exists.
func (e *Engine) ClientTransactionCount(clientID uint32) (uint32, bool) {
	rec, ok := e.clients.get(clientID)
	if !ok {
		return 0, false
	}
	return rec.txnCount, true
}

func (e *Engine) bump(kind wire.RequestKind) {
	e.counters.TotalRequests++
	if int(kind) < len(e.counters.PerOp) {
		e.counters.PerOp[kind]++
	}
}

// SetNotifyDeliver wires the engine's notification fan-out after
// construction, letting the delivery function's own lookup (e.g.
// NotifyPool.Deliver) close over the engine itself.
func (e *Engine) SetNotifyDeliver(deliver func(clientID uint32, ev NotifyEvent) wire.Errno) {
	e.notifyDeliver = deliver
}

// deliver hands ev to clientID's sink, reporting ESRCH when the sink is
// gone so the caller can tombstone the subscription (spec.md §4.3).
// Without a configured delivery function the bound sink is called
// directly.
func (e *Engine) deliver(clientID uint32, ev NotifyEvent) wire.Errno {
	if e.notifyDeliver == nil {
		sink, ok := e.SinkFor(clientID)
		if !ok {
			return wire.ESRCH
		}
		return sink.Deliver(ev)
	}
	return e.notifyDeliver(clientID, ev)
}
