package admission

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardPerSourceConnectLimit(t *testing.T) {
	g := New(Config{MaxConnectsPerSecond: 1000, MaxGoroutines: 10}, zerolog.Nop())
	g.bySource = newSourceRateLimiter(0.001, 2, time.Minute) // burst 2, near-zero refill

	ok1, _ := g.AllowConnect("10.0.0.1:5555")
	ok2, _ := g.AllowConnect("10.0.0.1:5556")
	require.True(t, ok1)
	require.True(t, ok2)

	ok3, reason := g.AllowConnect("10.0.0.1:5557")
	assert.False(t, ok3)
	assert.Equal(t, "per-source connect rate limit", reason)

	// A different source has its own independent bucket.
	ok4, _ := g.AllowConnect("10.0.0.2:1234")
	assert.True(t, ok4)
}

func TestGuardGoroutineLimit(t *testing.T) {
	g := New(Config{MaxGoroutines: 1, MaxConnectsPerSecond: 1000}, zerolog.Nop())

	ok1, _ := g.AllowConnect("a")
	require.True(t, ok1)

	ok2, reason := g.AllowConnect("b")
	assert.False(t, ok2)
	assert.Equal(t, "goroutine limit", reason)

	g.ReleaseConnect()
	ok3, _ := g.AllowConnect("c")
	assert.True(t, ok3)
}

func TestSourceRateLimiterSweep(t *testing.T) {
	l := newSourceRateLimiter(1, 1, time.Millisecond)
	l.allow("1.2.3.4")
	require.Equal(t, 1, l.count())

	time.Sleep(5 * time.Millisecond)
	l.sweep()
	assert.Equal(t, 0, l.count(), "idle entries past TTL must be swept")
}
