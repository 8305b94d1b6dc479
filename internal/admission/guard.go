// Package admission enforces static resource limits on the connection
// multiplexer so the engine is never handed more concurrent work than
// it can sustain. Adapted from the connection server's ResourceGuard:
// static configuration, token-bucket rate limiting, and a CPU/memory
// emergency brake sampled from the OS rather than guessed at.
package admission

import (
	"context"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"
)

// Config mirrors the resource-limit fields of internal/config.Config
// this package actually consumes.
type Config struct {
	MaxGoroutines        int
	MaxRequestsPerSecond int
	MaxConnectsPerSecond int
	CPURejectThreshold   float64
}

// Guard is the admission control point for new connections and, when
// wired by the transport, individual requests (spec.md carries no
// explicit admission-control module; this is ambient overload
// protection around the core, grounded on the teacher's ResourceGuard).
type Guard struct {
	cfg    Config
	log    zerolog.Logger
	connLimiter *rate.Limiter
	reqLimiter  *rate.Limiter
	goroutines  *goroutineLimiter
	bySource    *sourceRateLimiter

	proc       *process.Process
	currentCPU atomic.Value // float64
	currentMem atomic.Value // uint64
}

// New builds a Guard. If the current process's CPU sampler cannot be
// constructed (e.g. unsupported platform), CPU-based rejection is
// disabled rather than failing startup.
func New(cfg Config, log zerolog.Logger) *Guard {
	if cfg.MaxConnectsPerSecond <= 0 {
		cfg.MaxConnectsPerSecond = 1000
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = 100000
	}
	if cfg.MaxGoroutines <= 0 {
		cfg.MaxGoroutines = 4096
	}
	if cfg.CPURejectThreshold <= 0 {
		cfg.CPURejectThreshold = 90.0
	}

	g := &Guard{
		cfg:         cfg,
		log:         log,
		connLimiter: rate.NewLimiter(rate.Limit(cfg.MaxConnectsPerSecond), cfg.MaxConnectsPerSecond*2),
		reqLimiter:  rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond*2),
		goroutines:  newGoroutineLimiter(cfg.MaxGoroutines),
		bySource:    newSourceRateLimiter(5, 10, 5*time.Minute),
	}
	g.currentCPU.Store(0.0)
	g.currentMem.Store(uint64(0))

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		g.proc = p
	} else {
		log.Warn().Err(err).Msg("admission: CPU sampling unavailable, guard runs without CPU brake")
	}
	return g
}

// SampleCPU refreshes the guard's view of process CPU and resident
// memory usage. Run it periodically (e.g. every few seconds) from a
// background goroutine; it never blocks the engine.
func (g *Guard) SampleCPU(ctx context.Context) {
	if g.proc == nil {
		return
	}
	pct, err := g.proc.PercentWithContext(ctx, 0)
	if err == nil {
		numCPU := cpu.Counts(true)
		if numCPU <= 0 {
			numCPU = runtime.NumCPU()
		}
		g.currentCPU.Store(pct / float64(numCPU))
	}
	if mem, err := g.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		g.currentMem.Store(mem.RSS)
	}
}

func (g *Guard) cpu() float64 {
	return g.currentCPU.Load().(float64)
}

// MemoryBytes returns the most recently sampled resident set size.
func (g *Guard) MemoryBytes() uint64 {
	return g.currentMem.Load().(uint64)
}

// AllowConnect reports whether a new connection from source (typically
// a remote IP) should be accepted (spec.md §4.8 accept path). source
// rate limiting defends against one misbehaving client exhausting the
// global connect budget for everyone else, adapted from the connection
// server's per-IP ConnectionRateLimiter. A "host:port" source is
// bucketed by its host.
func (g *Guard) AllowConnect(source string) (ok bool, reason string) {
	if host, _, err := net.SplitHostPort(source); err == nil {
		source = host
	}
	if g.cpu() > g.cfg.CPURejectThreshold {
		return false, "cpu overload"
	}
	if source != "" && !g.bySource.allow(source) {
		return false, "per-source connect rate limit"
	}
	if !g.goroutines.acquire() {
		return false, "goroutine limit"
	}
	if !g.connLimiter.Allow() {
		g.goroutines.release()
		return false, "connect rate limit"
	}
	return true, ""
}

// SweepSources drops per-source rate limiter entries idle past their
// TTL, bounding memory under a long-running process with many distinct
// clients. Call periodically alongside SampleCPU.
func (g *Guard) SweepSources() {
	g.bySource.sweep()
}

// ReleaseConnect returns the goroutine slot a connection held once it
// closes.
func (g *Guard) ReleaseConnect() {
	g.goroutines.release()
}

// AllowRequest reports whether a dispatched request is within the
// configured request rate (spec.md leaves per-op throttling to the
// implementer; this is the reference transport's choice).
func (g *Guard) AllowRequest() bool {
	return g.reqLimiter.Allow()
}

// ActiveConnections returns how many connection slots are currently
// held, for the admission-rejection metrics gauge.
func (g *Guard) ActiveConnections() int {
	return g.goroutines.current()
}

// CPUPercent returns the most recent CPU sample.
func (g *Guard) CPUPercent() float64 {
	return g.cpu()
}

// goroutineLimiter bounds concurrent per-connection goroutines with a
// buffered-channel semaphore (adapted from the teacher's
// GoroutineLimiter).
type goroutineLimiter struct {
	sem chan struct{}
}

func newGoroutineLimiter(max int) *goroutineLimiter {
	return &goroutineLimiter{sem: make(chan struct{}, max)}
}

func (l *goroutineLimiter) acquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *goroutineLimiter) release() {
	select {
	case <-l.sem:
	default:
	}
}

func (l *goroutineLimiter) current() int { return len(l.sem) }
