// Package breaker implements the per-model circuit breaker that shields
// routing from consistently failing models.
//
// Each model key ("provider:model") owns one breaker with the classic three
// states: closed (normal traffic), open (no admission), and half-open
// (limited probe traffic after the open timeout). The open to half-open
// transition is evaluated lazily on the next admission check rather than by
// a background timer.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed State = iota
	// StateOpen refuses all admission until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a capped number of probe requests.
	StateHalfOpen
)

// String returns the canonical name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the circuit. Default 2.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before the next
	// admission check moves it to half-open. Default 30s.
	OpenTimeout time.Duration

	// HalfOpenMaxCalls caps concurrently admitted calls while half-open.
	// Default 1.
	HalfOpenMaxCalls int

	// OnStateChange, when set, is invoked outside the breaker lock on every
	// transition.
	OnStateChange func(key string, from, to State)
}

// DefaultConfig returns a Config with the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Snapshot is a point-in-time copy of a breaker's state for observability.
type Snapshot struct {
	Key             string    `json:"key"`
	State           string    `json:"state"`
	Failures        int       `json:"consecutive_failures"`
	Successes       int       `json:"consecutive_successes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
	OpenCount       int64     `json:"open_count"`
	HalfOpenCalls   int       `json:"half_open_calls"`
}

// Breaker is the failure/success state machine for one model key. All
// mutation is serialized under one mutex; clock is injectable for tests.
type Breaker struct {
	key    string
	config Config
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int // consecutive failures while closed
	successes       int // consecutive successes while half-open
	lastFailure     time.Time
	lastStateChange time.Time
	openCount       int64
	halfOpenCalls   int // calls admitted and not yet resolved while half-open
}

// New creates a breaker for the given model key.
func New(key string, config Config) *Breaker {
	return &Breaker{
		key:    key,
		config: config.withDefaults(),
		now:    time.Now,
		state:  StateClosed,
	}
}

// CanRequest reports whether a call to this model may proceed. As a side
// effect it performs the lazy open-to-half-open transition once the open
// timeout has elapsed, and reserves a half-open probe slot when admitting.
func (b *Breaker) CanRequest() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.config.OpenTimeout {
			b.mu.Unlock()
			return false
		}
		b.transition(StateHalfOpen)
		fallthrough

	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return false
		}
		b.halfOpenCalls++
		b.mu.Unlock()
		return true
	}

	b.mu.Unlock()
	return false
}

// RecordSuccess reports a successful call. While half-open it releases the
// probe slot and closes the circuit once enough consecutive successes have
// accumulated; while closed it resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.failures = 0

	case StateHalfOpen:
		if b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}

	b.mu.Unlock()
}

// RecordFailure reports a failed call. While closed it opens the circuit at
// the failure threshold; while half-open any failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		if b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		b.transition(StateOpen)
	}

	b.mu.Unlock()
}

// State returns the current state without triggering the lazy transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker currently refuses all admission.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Reset forces the breaker back to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Key:             b.key,
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
		OpenCount:       b.openCount,
		HalfOpenCalls:   b.halfOpenCalls,
	}
}

// transition moves to next and resets the counters that belong to the new
// state. Must be called with the lock held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastStateChange = b.now()

	switch next {
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.halfOpenCalls = 0
	case StateOpen:
		b.openCount++
		b.successes = 0
		b.halfOpenCalls = 0
	case StateHalfOpen:
		b.successes = 0
		b.halfOpenCalls = 0
	}

	if b.config.OnStateChange != nil {
		// Callback runs outside the lock to avoid deadlocks.
		go b.config.OnStateChange(b.key, prev, next)
	}
}
