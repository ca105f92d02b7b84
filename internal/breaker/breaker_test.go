package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New("openai:gpt-4o", cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_ClosedAllowsRequests(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	assert.Equal(t, StateClosed, b.State())
	for i := 0; i < 100; i++ {
		assert.True(t, b.CanRequest())
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "below threshold stays closed")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanRequest())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State(), "failures are consecutive, not cumulative")
}

func TestBreaker_LazyHalfOpenTransition(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(29 * time.Second)
	assert.False(t, b.CanRequest(), "open timeout not yet elapsed")
	assert.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Second)
	assert.True(t, b.CanRequest(), "timeout elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenAdmissionCap(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second, HalfOpenMaxCalls: 2})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)

	assert.True(t, b.CanRequest())
	assert.True(t, b.CanRequest())
	assert.False(t, b.CanRequest(), "cap reached, further probes refused")

	// Resolving a probe releases its slot.
	b.RecordSuccess()
	assert.True(t, b.CanRequest())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second, HalfOpenMaxCalls: 2})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)

	require.True(t, b.CanRequest())
	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	require.True(t, b.CanRequest())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanRequest())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.CanRequest())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanRequest(), "open timeout restarts after half-open failure")
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanRequest())

	snap := b.Snapshot()
	assert.Zero(t, snap.Failures)
	assert.Zero(t, snap.Successes)
}

func TestBreaker_SnapshotCountsOpens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.CanRequest())
	b.RecordFailure()

	snap := b.Snapshot()
	assert.Equal(t, "OPEN", snap.State)
	assert.Equal(t, int64(2), snap.OpenCount)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	changes := make(chan State, 4)
	cfg := Config{
		FailureThreshold: 1,
		OnStateChange: func(key string, from, to State) {
			changes <- to
		},
	}
	b, _ := newTestBreaker(cfg)

	b.RecordFailure()

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback never fired")
	}
}

func TestRegistry_LazyCreateAndReuse(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.Get("openai:gpt-4o")
	b := r.Get("openai:gpt-4o")
	assert.Same(t, a, b)

	c := r.Get("anthropic:claude-sonnet-4-20250514")
	assert.NotSame(t, a, c)
	assert.Len(t, r.Snapshots(), 2)
}

func TestRegistry_ConfigureReplacesBreaker(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	old := r.Get("gemini:gemini-2.0-flash")
	old.RecordFailure()

	replaced := r.Configure("gemini:gemini-2.0-flash", Config{FailureThreshold: 1})
	assert.NotSame(t, old, replaced)
	assert.Equal(t, StateClosed, replaced.State())

	replaced.RecordFailure()
	assert.Equal(t, StateOpen, replaced.State())
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1})

	r.Get("openai:gpt-4o").RecordFailure()
	r.Get("gemini:gemini-2.0-flash").RecordFailure()

	r.ResetAll()
	for _, snap := range r.Snapshots() {
		assert.Equal(t, "CLOSED", snap.State)
	}
}
