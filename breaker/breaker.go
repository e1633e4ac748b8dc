// CLAUDE:SUMMARY Consecutive-failure circuit breaker gating network-facing work of one automation context.
// Package breaker implements the failure-tracking circuit breaker used by the
// resilience controller. One breaker belongs to exactly one automation
// context; never share an instance between accounts.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation, calls pass through.
	Open                  // Calls rejected until the reset timeout elapses.
	HalfOpen              // One probe call allowed to test recovery.
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Breaker counts consecutive failure signals and blocks further attempts
// once the threshold is reached.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	threshold    int           // immutable after construction
	resetTimeout time.Duration // how long to stay open before half-open
	lastFailure  time.Time
	probing      bool // half-open probe granted, outcome not yet reported
	now          func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the failure count that trips the breaker open.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before allowing a probe.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// New creates a breaker with the defaults of the rewards flow:
// 3 failures to open, 5 minutes before a probe is allowed.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:        Closed,
		threshold:    3,
		resetTimeout: 5 * time.Minute,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// RecordFailure records one failure signal.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failures++
		b.lastFailure = b.now()
		if b.failures >= b.threshold {
			b.state = Open
		}
	case HalfOpen:
		// The probe failed: re-open and re-arm the timer.
		b.failures++
		b.lastFailure = b.now()
		b.state = Open
		b.probing = false
	case Open:
		// Nothing runs while open; a stray report must not extend the cool-down.
	}
}

// RecordSuccess records a successful attempt. A successful half-open probe
// closes the breaker; in closed state it clears the consecutive count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failures = 0
		b.probing = false
	case Closed:
		b.failures = 0
	}
}

// ShouldBlock reports whether the next attempt must be rejected. When the
// reset timeout has elapsed on an open breaker it moves to half-open and
// returns false exactly once.
func (b *Breaker) ShouldBlock() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) > b.resetTimeout {
			b.state = HalfOpen
			b.probing = true
			return false
		}
		return true
	case HalfOpen:
		return b.probing
	}
	return false
}

// Blocking reports whether ShouldBlock would refuse an attempt now, without
// moving an expired open breaker to half-open.
func (b *Breaker) Blocking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		return b.now().Sub(b.lastFailure) <= b.resetTimeout
	case HalfOpen:
		return b.probing
	}
	return false
}

// ReleaseProbe hands back a half-open probe whose outcome will never be
// reported, typically because the caller was cancelled mid-attempt. The
// breaker returns to open with its original failure time, so the next
// ShouldBlock grants the probe again.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.probing {
		b.state = Open
		b.probing = false
	}
}

// State returns the current breaker state without triggering transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Threshold returns the configured trip threshold.
func (b *Breaker) Threshold() int { return b.threshold }

// RetryAt returns when an open breaker will grant its probe. Zero when not open.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return time.Time{}
	}
	return b.lastFailure.Add(b.resetTimeout)
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}

// ErrCircuitOpen is returned when the breaker rejects an attempt without
// performing any I/O.
type ErrCircuitOpen struct {
	Failures int
	RetryAt  time.Time
}

func (e *ErrCircuitOpen) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("breaker: circuit open after %d failures", e.Failures)
	}
	return fmt.Sprintf("breaker: circuit open after %d failures, probe at %s",
		e.Failures, e.RetryAt.Format(time.RFC3339))
}
