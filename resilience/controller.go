// CLAUDE:SUMMARY Per-context resilience controller turning page snapshots into proceed/backoff/rotate/abort decisions.
// Package resilience decides, after every page interaction, whether an
// automation context may proceed, must back off, must change identity, or
// must stop because its circuit breaker is open.
//
// One Controller owns one Breaker, one Session and one health Monitor. Build
// a Controller per account; never share one between contexts.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/humanpace/breaker"
	"github.com/hazyhaar/humanpace/fingerprint"
	"github.com/hazyhaar/humanpace/health"
	"github.com/hazyhaar/humanpace/idgen"
	"github.com/hazyhaar/humanpace/page"
)

// DecisionKind is what the caller must do next.
type DecisionKind int

const (
	Proceed        DecisionKind = iota // continue with the next step
	WaitThenRetry                      // sleep Delay, then retry the same step
	RotateAndRetry                     // identity was replaced; sleep Delay, then retry
	Abort                              // breaker open; nothing may run
)

func (k DecisionKind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case WaitThenRetry:
		return "wait_then_retry"
	case RotateAndRetry:
		return "rotate_and_retry"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("decision(%d)", int(k))
}

// Rotation is the identity change performed while deciding.
type Rotation int

const (
	RotationNone Rotation = iota
	RotationFingerprint
	RotationSession // new Session and new Fingerprint
)

func (r Rotation) String() string {
	switch r {
	case RotationNone:
		return "none"
	case RotationFingerprint:
		return "fingerprint"
	case RotationSession:
		return "session"
	}
	return fmt.Sprintf("rotation(%d)", int(r))
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Kind     DecisionKind
	Delay    time.Duration
	Signal   FailureSignal // Kind is SignalNone on Proceed and Abort
	Rotation Rotation
	// RotationErr is set when a requested fingerprint rotation failed. The
	// previous fingerprint stays active and the decision still holds.
	RotationErr error
	// Err is the *breaker.ErrCircuitOpen of an Abort.
	Err error
}

// Controller applies the resilience policy for one automation context.
// Methods are safe for concurrent use but callers are expected to consume
// each Decision before evaluating the next attempt.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  idgen.Generator
	pacer  *Pacer

	mu       sync.Mutex
	rng      *rand.Rand
	breaker  *breaker.Breaker
	session  Session
	rotator  *fingerprint.Rotator
	target   fingerprint.Target
	monitor  *health.Monitor
	admitted bool // Admit granted the next attempt; Evaluate must not re-check
}

// Option configures a Controller.
type Option func(*Controller)

// WithRotator sets the fingerprint rotator used on rotation.
func WithRotator(r *fingerprint.Rotator) Option { return func(c *Controller) { c.rotator = r } }

// WithTarget sets the browsing context fingerprints are applied to.
func WithTarget(t fingerprint.Target) Option { return func(c *Controller) { c.target = t } }

// WithMonitor sets the health monitor of this context.
func WithMonitor(m *health.Monitor) Option { return func(c *Controller) { c.monitor = m } }

// WithBreaker replaces the breaker built from Config.
func WithBreaker(b *breaker.Breaker) Option { return func(c *Controller) { c.breaker = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithRand sets the random source (for testing).
func WithRand(rng *rand.Rand) Option { return func(c *Controller) { c.rng = rng } }

// WithClock sets the time source (for testing).
func WithClock(fn func() time.Time) Option { return func(c *Controller) { c.now = fn } }

// WithIDGenerator sets how session IDs are minted.
func WithIDGenerator(g idgen.Generator) Option { return func(c *Controller) { c.newID = g } }

// New creates a Controller. Zero Config fields take their defaults.
func New(cfg Config, opts ...Option) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.newID == nil {
		c.newID = idgen.Session
	}
	if c.breaker == nil {
		c.breaker = breaker.New(
			breaker.WithThreshold(cfg.BreakerThreshold),
			breaker.WithResetTimeout(cfg.BreakerReset),
			breaker.WithClock(c.now),
		)
	}
	if c.monitor == nil {
		c.monitor = health.NewMonitor("default", health.WithClock(c.now))
	}
	c.pacer = NewPacer(cfg, rand.New(rand.NewPCG(c.rng.Uint64(), c.rng.Uint64())))
	c.session = c.freshSession()
	return c, nil
}

func (c *Controller) freshSession() Session {
	return Session{
		ID:            c.newID(),
		Started:       c.now(),
		RequestLimit:  c.cfg.SessionRequestLimit,
		DurationLimit: c.cfg.SessionDuration,
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Breaker returns the controller's breaker.
func (c *Controller) Breaker() *breaker.Breaker { return c.breaker }

// Monitor returns the controller's health monitor.
func (c *Controller) Monitor() *health.Monitor { return c.monitor }

// Session returns a copy of the active session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Evaluate decides what to do after attempt number attempt (1-based)
// produced snap. It performs no page I/O except the fingerprint rotation it
// may request.
func (c *Controller) Evaluate(ctx context.Context, snap page.Snapshot, attempt int) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		c.releaseLocked()
		return Decision{}, err
	}

	if c.blockedLocked() {
		err := c.openErrLocked()
		c.logger.Warn("resilience: circuit open, aborting",
			"session", c.session.ID, "failures", err.Failures, "retry_at", err.RetryAt)
		return Decision{Kind: Abort, Err: err}, nil
	}

	now := c.now()
	if sig, ok := Detect(snap, now); ok {
		c.breaker.RecordFailure()
		c.monitor.RecordSignal(sig.Kind.String())

		d := Decision{Kind: WaitThenRetry, Signal: sig, Delay: c.backoffLocked(attempt, sig)}
		switch {
		case sig.Kind == CaptchaPresented:
			// Waiting does not clear a CAPTCHA wall.
			d.Kind, d.Rotation = RotateAndRetry, RotationSession
		case attempt > c.cfg.RotateAfter:
			d.Rotation = RotationSession
		case attempt > 1:
			d.Rotation = RotationFingerprint
		}
		d.RotationErr = c.rotateLocked(ctx, d.Rotation)

		c.logger.Warn("resilience: detection signal",
			"signal", sig.Kind.String(),
			"reason", sig.Reason,
			"url", snap.URL,
			"attempt", attempt,
			"decision", d.Kind.String(),
			"delay_ms", d.Delay.Milliseconds(),
			"rotation", d.Rotation.String(),
			"breaker", c.breaker.State().String(),
			"session", c.session.ID)
		return d, nil
	}

	c.breaker.RecordSuccess()
	c.monitor.RecordEvasion()

	if c.session.Stale(now) {
		err := c.rotateLocked(ctx, RotationSession)
		return Decision{Kind: Proceed, Rotation: RotationSession, RotationErr: err}, nil
	}
	c.session.Requests++
	return Decision{Kind: Proceed}, nil
}

// Admit checks the breaker before a step performs page I/O. The granted
// attempt is not checked again by the following Evaluate, so a half-open
// probe is consumed once.
func (c *Controller) Admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breaker.ShouldBlock() {
		c.admitted = false
		return c.openErrLocked()
	}
	c.admitted = true
	return nil
}

func (c *Controller) blockedLocked() bool {
	if c.admitted {
		c.admitted = false
		return false
	}
	return c.breaker.ShouldBlock()
}

// Ready returns *breaker.ErrCircuitOpen when the breaker would refuse the
// next attempt. It does not consume a half-open probe, so callers can check
// before spending time on pacing.
func (c *Controller) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breaker.Blocking() {
		return c.openErrLocked()
	}
	return nil
}

// release gives back an admitted attempt that ended without an outcome, so
// a half-open probe is not held forever by a cancelled step.
func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

func (c *Controller) releaseLocked() {
	c.admitted = false
	c.breaker.ReleaseProbe()
}

func (c *Controller) openErrLocked() *breaker.ErrCircuitOpen {
	c.monitor.RecordAbort()
	return &breaker.ErrCircuitOpen{Failures: c.breaker.Failures(), RetryAt: c.breaker.RetryAt()}
}

// ReportNavigationError records a timeout or network fault from the page as
// a failure signal.
func (c *Controller) ReportNavigationError(err error) FailureSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitted = false
	c.breaker.RecordFailure()
	sig := FailureSignal{Kind: TransientNetworkError, At: c.now(), Reason: err.Error()}
	c.monitor.RecordSignal(sig.Kind.String())
	c.logger.Warn("resilience: navigation error",
		"error", err, "breaker", c.breaker.State().String(), "session", c.session.ID)
	return sig
}

// Backoff returns the delay for attempt given sig:
// min(MaxDelay, BaseDelay*BackoffFactor^attempt) * U(JitterMin, JitterMax),
// raised to RetryAfter*RetryAfterBuffer when the server named a wait.
// The server's wait counts at most MaxRetryAfter.
func (c *Controller) Backoff(attempt int, sig FailureSignal) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoffLocked(attempt, sig)
}

func (c *Controller) backoffLocked(attempt int, sig FailureSignal) time.Duration {
	attempt = max(attempt, 0)
	base := float64(c.cfg.BaseDelay) * math.Pow(c.cfg.BackoffFactor, float64(attempt))
	jitter := c.cfg.JitterMin + c.rng.Float64()*(c.cfg.JitterMax-c.cfg.JitterMin)
	delay := math.Min(float64(c.cfg.MaxDelay), base) * jitter
	if sig.HasRetryAfter {
		wait := min(sig.RetryAfter, c.cfg.MaxRetryAfter)
		delay = math.Max(delay, float64(wait)*c.cfg.RetryAfterBuffer)
	}
	return time.Duration(delay)
}

// rotateLocked performs r. Session state always changes; a failed
// fingerprint rotation is logged and returned but leaves the previous
// fingerprint active.
func (c *Controller) rotateLocked(ctx context.Context, r Rotation) error {
	switch r {
	case RotationNone:
		return nil
	case RotationSession:
		old := c.session
		c.session = c.freshSession()
		c.monitor.RecordRotation("session")
		c.logger.Info("resilience: session rotated",
			"previous", old.ID, "session", c.session.ID,
			"requests", old.Requests, "age", old.Age(c.now()).Round(time.Second).String())
	case RotationFingerprint:
		c.monitor.RecordRotation("fingerprint")
	}
	if c.rotator == nil || c.target == nil {
		return nil
	}
	if _, err := c.rotator.Rotate(ctx, c.target); err != nil {
		c.logger.Warn("resilience: fingerprint rotation failed", "error", err, "session", c.session.ID)
		return fmt.Errorf("resilience: rotate fingerprint: %w", err)
	}
	return nil
}

// Wait sleeps for d or until ctx is done. Cancellation changes no breaker
// or session state.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	if d > 0 {
		c.logger.Info("resilience: backing off", "delay_ms", d.Milliseconds())
	}
	return page.Sleep(ctx, d)
}

// Pace waits the inter-request delay of the active session.
func (c *Controller) Pace(ctx context.Context) error {
	sess := c.Session()
	return c.pacer.Wait(ctx, sess, c.now())
}

// Capture reads the snapshot Evaluate inspects. Status and header failures
// degrade to empty values; failing to read the content is a NavigationError.
func (c *Controller) Capture(ctx context.Context, p page.Page) (page.Snapshot, error) {
	url := p.URL()
	content, err := p.Content(ctx)
	if err != nil {
		return page.Snapshot{}, &NavigationError{URL: url, Attempts: 1, Err: err}
	}
	snap := page.Snapshot{URL: url, Content: content, At: c.now()}
	if status, ok, err := p.Status(ctx, url); err != nil {
		c.logger.Debug("resilience: status unavailable", "url", url, "error", err)
	} else {
		snap.Status, snap.HasStatus = status, ok
	}
	if h, err := p.Headers(ctx, url); err != nil {
		c.logger.Debug("resilience: headers unavailable", "url", url, "error", err)
	} else {
		snap.Headers = page.NormalizeHeaders(h)
	}
	return snap, nil
}
