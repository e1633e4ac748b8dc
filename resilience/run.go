package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/humanpace/breaker"
	"github.com/hazyhaar/humanpace/page"
)

// Step is one page interaction: a navigation, a click, a form submit.
type Step func(ctx context.Context, p page.Page) error

type haltError struct{ err error }

func (e *haltError) Error() string { return e.err.Error() }
func (e *haltError) Unwrap() error { return e.err }

// Halt wraps a step error that says nothing about the page being blocked,
// such as an element gone from a reloaded page. Run returns the wrapped
// error at once, without counting a failure or retrying.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltError{err: err}
}

// Run executes step under the controller's policy, at most budget times
// (Config.MaxAttempts when budget <= 0). It returns nil once a snapshot
// evaluates to Proceed.
//
// Errors: *breaker.ErrCircuitOpen when the breaker refuses an attempt,
// *TransientDetectionError when block signals outlast the budget,
// *NavigationError when page I/O does, the error a step passed to Halt, or
// the context error. An attempt cut short by cancellation or Halt gives a
// half-open probe back to the breaker.
func (c *Controller) Run(ctx context.Context, p page.Page, step Step, budget int) error {
	if budget <= 0 {
		budget = c.cfg.MaxAttempts
	}

	var last error
	for attempt := 1; attempt <= budget; attempt++ {
		if err := c.Admit(); err != nil {
			return err
		}

		delay, done, err := c.attempt(ctx, p, step, attempt)
		if done {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.release()
			return ctxErr
		}
		var halt *haltError
		if errors.As(err, &halt) {
			c.release()
			return halt.err
		}
		var open *breaker.ErrCircuitOpen
		if errors.As(err, &open) {
			return err
		}
		last = err
		if attempt == budget {
			break
		}
		if err := c.Wait(ctx, delay); err != nil {
			return err
		}
	}

	switch e := last.(type) {
	case *TransientDetectionError:
		e.Attempts = budget
	case *NavigationError:
		e.Attempts = budget
	}
	return last
}

// attempt runs step once and evaluates the result. done reports Proceed;
// otherwise err describes the failure and delay the wait before retrying.
func (c *Controller) attempt(ctx context.Context, p page.Page, step Step, attempt int) (delay time.Duration, done bool, err error) {
	if err := step(ctx, p); err != nil {
		var halt *haltError
		if errors.As(err, &halt) {
			return 0, false, err
		}
		return c.navFailure(ctx, p, attempt, err)
	}
	snap, err := c.Capture(ctx, p)
	if err != nil {
		var nav *NavigationError
		if errors.As(err, &nav) {
			return c.navFailure(ctx, p, attempt, nav.Err)
		}
		return 0, false, err
	}
	d, err := c.Evaluate(ctx, snap, attempt)
	if err != nil {
		return 0, false, err
	}
	switch d.Kind {
	case Proceed:
		return 0, true, nil
	case Abort:
		return 0, false, d.Err
	}
	return d.Delay, false, &TransientDetectionError{Signal: d.Signal, Attempts: attempt}
}

func (c *Controller) navFailure(ctx context.Context, p page.Page, attempt int, err error) (time.Duration, bool, error) {
	if ctx.Err() != nil {
		// Cancellation is not a page fault.
		return 0, false, ctx.Err()
	}
	sig := c.ReportNavigationError(err)
	return c.Backoff(attempt, sig), false, &NavigationError{URL: p.URL(), Attempts: attempt, Err: err}
}
