package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/varserverd/varserver/internal/wire"
)

// notifyTask is one queued delivery: hand ev to a specific client's
// sink. A dropped task is only counted (see Dropped); which client it
// belonged to is not recorded.
type notifyTask struct {
	sink NotifySink
	ev   NotifyEvent
}

// NotifyPool fans notification deliveries out across a fixed worker
// pool so a single slow NOTIFY subscriber never stalls the engine's
// dispatch goroutine (spec.md §5 "Handlers never block on IO"). Adapted
// from the connection broadcaster's worker pool: fixed worker count,
// bounded queue, tasks dropped under backpressure rather than spawning
// unbounded goroutines.
type NotifyPool struct {
	workerCount int
	queue       chan notifyTask
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dropped     int64
	logger      zerolog.Logger
}

// NewNotifyPool builds a pool with workerCount workers and a queue sized
// queueSize. Call Start before submitting.
func NewNotifyPool(workerCount, queueSize int, logger zerolog.Logger) *NotifyPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = workerCount * 100
	}
	return &NotifyPool{
		workerCount: workerCount,
		queue:       make(chan notifyTask, queueSize),
		logger:      logger,
	}
}

// Start launches the worker goroutines.
func (p *NotifyPool) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *NotifyPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *NotifyPool) run(task notifyTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("notify worker panic recovered")
		}
	}()
	task.sink.Deliver(task.ev)
}

// Submit queues ev for delivery to sink. If the queue is full the task
// is dropped and counted — a full notify queue means a subscriber is
// not draining fast enough, not a reason to block the dispatch loop.
func (p *NotifyPool) Submit(sink NotifySink, ev NotifyEvent) wire.Errno {
	select {
	case p.queue <- notifyTask{sink: sink, ev: ev}:
		return wire.EOK
	default:
		atomic.AddInt64(&p.dropped, 1)
		return wire.EOK
	}
}

// Dropped returns how many notifications were discarded under
// backpressure, exported as a metric.
func (p *NotifyPool) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// QueueDepth returns the number of notifications currently queued.
func (p *NotifyPool) QueueDepth() int {
	return len(p.queue)
}

// Stop cancels the workers and waits for them to exit. The queue is not
// closed or drained; tasks still queued may go undelivered.
func (p *NotifyPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Deliver resolves clientID through reg and submits the delivery to the
// pool, wiring Engine's deliver callback onto a real client registry
// without the engine package depending on the pool's sink lookup
// directly.
func (p *NotifyPool) Deliver(reg ClientSinkLookup) func(clientID uint32, ev NotifyEvent) wire.Errno {
	return func(clientID uint32, ev NotifyEvent) wire.Errno {
		sink, ok := reg.SinkFor(clientID)
		if !ok {
			return wire.ESRCH
		}
		return p.Submit(sink, ev)
	}
}

// ClientSinkLookup resolves a client id to its bound NotifySink. Engine
// itself satisfies it via its client registry, letting the transport
// wire NotifyPool.Deliver(engine) directly.
type ClientSinkLookup interface {
	SinkFor(clientID uint32) (NotifySink, bool)
}

// SinkFor implements ClientSinkLookup against the engine's own client
// registry.
func (e *Engine) SinkFor(clientID uint32) (NotifySink, bool) {
	rec, ok := e.clients.get(clientID)
	if !ok || rec.sink == nil {
		return nil, false
	}
	return rec.sink, true
}
