package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceRateLimiter buckets connect attempts by remote address so one
// noisy client can't exhaust the global connect budget for everyone
// else. Adapted from the connection server's ConnectionRateLimiter,
// trimmed to the single per-source token bucket VarServer needs (the
// teacher's global bucket is already covered by Guard.connLimiter).
type sourceRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*sourceEntry
	burst   int
	rate    float64
	ttl     time.Duration
}

type sourceEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newSourceRateLimiter(perSourceRate float64, burst int, ttl time.Duration) *sourceRateLimiter {
	if burst <= 0 {
		burst = 10
	}
	if perSourceRate <= 0 {
		perSourceRate = 5
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &sourceRateLimiter{
		entries: make(map[string]*sourceEntry),
		burst:   burst,
		rate:    perSourceRate,
		ttl:     ttl,
	}
}

// allow reports whether source may connect now, lazily creating its
// token bucket on first sight.
func (l *sourceRateLimiter) allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[source]
	if !ok {
		e = &sourceEntry{limiter: rate.NewLimiter(rate.Limit(l.rate), l.burst)}
		l.entries[source] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// sweep drops entries untouched for longer than ttl, bounding memory
// use under a long-running process with many distinct clients.
func (l *sourceRateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.ttl)
	for source, e := range l.entries {
		if e.lastAccess.Before(cutoff) {
			delete(l.entries, source)
		}
	}
}

func (l *sourceRateLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
