package breaker

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clk *fakeClock) *Breaker {
	return New(WithThreshold(3), WithResetTimeout(time.Minute), WithClock(clk.now))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clk)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.ShouldBlock() {
			t.Fatalf("blocked after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if !b.ShouldBlock() {
		t.Fatal("open breaker must block")
	}
}

func TestBreaker_HalfOpenProbeThenFailure(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	// Blocks continuously until the reset timeout has elapsed.
	for i := 0; i < 6; i++ {
		clk.advance(10 * time.Second)
		if !b.ShouldBlock() {
			t.Fatalf("unblocked after %s", time.Duration(i+1)*10*time.Second)
		}
	}
	clk.advance(time.Second)

	if b.ShouldBlock() {
		t.Fatal("expected one probe after reset timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if !b.ShouldBlock() {
		t.Fatal("second call during an outstanding probe must block")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
	if !b.ShouldBlock() {
		t.Fatal("failed probe must block again immediately")
	}

	// Timer re-armed from the probe failure.
	clk.advance(30 * time.Second)
	if !b.ShouldBlock() {
		t.Fatal("timer was not re-armed by the probe failure")
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.advance(2 * time.Minute)
	if b.ShouldBlock() {
		t.Fatal("expected probe")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	if b.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", b.Failures())
	}
	if b.ShouldBlock() {
		t.Fatal("closed breaker must not block")
	}
}

func TestBreaker_FailuresIgnoredWhileOpen(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	retryAt := b.RetryAt()
	clk.advance(30 * time.Second)
	b.RecordFailure()
	if b.Failures() != 3 {
		t.Fatalf("failures = %d, want 3", b.Failures())
	}
	if !b.RetryAt().Equal(retryAt) {
		t.Fatalf("retry at moved from %s to %s", retryAt, b.RetryAt())
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := New(WithThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreaker_InvalidOptionsKeepDefaults(t *testing.T) {
	b := New(WithThreshold(0), WithResetTimeout(-time.Second))
	if b.Threshold() != 3 {
		t.Fatalf("threshold = %d, want default 3", b.Threshold())
	}
	if b.resetTimeout != 5*time.Minute {
		t.Fatalf("reset timeout = %s, want 5m", b.resetTimeout)
	}
}

func TestErrCircuitOpen(t *testing.T) {
	var err error = &ErrCircuitOpen{Failures: 3, RetryAt: time.Unix(0, 0).UTC()}
	var target *ErrCircuitOpen
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(err.Error(), "3 failures") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestBreaker_ReleasedHalfOpenSlotIsGrantedAgain(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if !b.Blocking() {
		t.Fatal("open breaker must report blocking")
	}
	clk.advance(2 * time.Minute)
	if b.Blocking() || b.State() != Open {
		t.Fatalf("Blocking after timeout = %v, state %s (must not transition)", b.Blocking(), b.State())
	}
	if b.ShouldBlock() {
		t.Fatal("expected probe")
	}
	if !b.Blocking() {
		t.Fatal("outstanding probe must report blocking")
	}
	b.ReleaseProbe()
	if b.State() != Open || b.RetryAt().IsZero() {
		t.Fatalf("state = %s, retry at %s after release", b.State(), b.RetryAt())
	}
	if b.ShouldBlock() {
		t.Fatal("released probe must be granted again without waiting")
	}
	if b.Failures() != 3 {
		t.Fatalf("failures = %d, release must not count", b.Failures())
	}

	// No effect outside an outstanding probe.
	b.RecordSuccess()
	b.ReleaseProbe()
	if b.State() != Closed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}
