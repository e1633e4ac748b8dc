// CLAUDE:SUMMARY Resolves abstract element queries through a fixed fallback chain of strategies with diagnostics.
// Package locate resolves an element query against a live page by trying a
// fixed, ordered chain of strategies: hierarchical, fuzzy text, direct
// selector, accessibility label.
package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/humanpace/page"
)

// Diagnostics describes one Locate call.
type Diagnostics struct {
	Strategy     int            // 1-based position in the chain, 0 when nothing matched
	StrategyName string         // empty when nothing matched
	Attempts     map[string]int // invocations per strategy name
	Elapsed      time.Duration
}

// Result is the outcome of Locate. Element is owned by the caller.
type Result struct {
	Found       bool
	Element     page.Element
	Query       Query
	Diagnostics Diagnostics
}

// Err returns an *ElementNotFoundError when nothing matched, nil otherwise.
func (r Result) Err() error {
	if r.Found {
		return nil
	}
	return &ElementNotFoundError{Query: r.Query, Attempts: r.Diagnostics.Attempts}
}

// ElementNotFoundError reports an exhausted fallback chain.
type ElementNotFoundError struct {
	Query    Query
	Attempts map[string]int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("locate: element not found: %s", e.Query)
}

// Recorder receives per-call outcomes. health.Monitor implements it.
type Recorder interface {
	RecordLocate(strategy string, found bool)
}

// Resolver runs the fallback chain. It holds no per-call state.
type Resolver struct {
	strategies []Strategy
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRecorder sets the outcome recorder.
func WithRecorder(rec Recorder) Option { return func(r *Resolver) { r.recorder = rec } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithFuzzyThreshold overrides the fuzzy text similarity threshold (0..1].
func WithFuzzyThreshold(t float64) Option {
	return func(r *Resolver) {
		for i, s := range r.strategies {
			if f, ok := s.(FuzzyText); ok {
				f.Threshold = t
				r.strategies[i] = f
			}
		}
	}
}

// WithClock sets the clock used for elapsed time (for testing).
func WithClock(fn func() time.Time) Option { return func(r *Resolver) { r.now = fn } }

// New creates a Resolver with the standard chain.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		strategies: []Strategy{Hierarchical{}, FuzzyText{}, Selector{}, Accessibility{}},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	for i, s := range r.strategies {
		if f, ok := s.(FuzzyText); ok && f.Logger == nil {
			f.Logger = r.logger
			r.strategies[i] = f
		}
	}
	return r
}

// Strategies returns the chain names in order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

type locateOpts struct {
	container string
}

// LocateOption tunes one Locate call.
type LocateOption func(*locateOpts)

// WithContainer scopes selector-expressible queries to the first match of sel.
func WithContainer(sel string) LocateOption {
	return func(o *locateOpts) { o.container = sel }
}

// Locate resolves q on p. A miss is reported through Result.Found, never as
// an error; errors are page I/O failures.
func (r *Resolver) Locate(ctx context.Context, p page.Page, q Query, opts ...LocateOption) (Result, error) {
	if q == nil {
		return Result{}, errors.New("locate: nil query")
	}
	var lo locateOpts
	for _, o := range opts {
		o(&lo)
	}

	start := r.now()
	res := Result{Query: q, Diagnostics: Diagnostics{Attempts: make(map[string]int)}}

	for i, s := range r.strategies {
		if !s.Applies(q, lo.container) {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Diagnostics.Elapsed = r.now().Sub(start)
			return res, err
		}
		res.Diagnostics.Attempts[s.Name()]++
		el, err := s.Find(ctx, p, q, lo.container)
		if err != nil {
			res.Diagnostics.Elapsed = r.now().Sub(start)
			return res, fmt.Errorf("locate: %s: %w", s.Name(), err)
		}
		if el != nil {
			res.Found = true
			res.Element = el
			res.Diagnostics.Strategy = i + 1
			res.Diagnostics.StrategyName = s.Name()
			res.Diagnostics.Elapsed = r.now().Sub(start)
			if r.recorder != nil {
				r.recorder.RecordLocate(s.Name(), true)
			}
			r.logger.Debug("locate: found", "query", q.String(), "strategy", s.Name(),
				"elapsed_ms", res.Diagnostics.Elapsed.Milliseconds())
			return res, nil
		}
	}

	res.Diagnostics.Elapsed = r.now().Sub(start)
	if r.recorder != nil {
		r.recorder.RecordLocate("", false)
	}
	r.logger.Warn("locate: element not found", "query", q.String(), "attempts", res.Diagnostics.Attempts)
	return res, nil
}
