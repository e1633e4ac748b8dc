// CLAUDE:SUMMARY Humanized click and typing: locate, glide the pointer along a synthesized path, pause, act.
// Package interact performs clicks and typing the way a person would, by
// combining element resolution, pointer trajectories and keystroke plans on
// top of a page.
package interact

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/humanpace/locate"
	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/page"
)

// Actor drives one page. It remembers where the pointer is so successive
// moves start from the previous target.
type Actor struct {
	page     page.Page
	synth    *motion.Synthesizer
	resolver *locate.Resolver
	logger   *slog.Logger

	clickPause   motion.Range
	inset        float64
	zigzagChance float64
	errorRate    float64

	mu        sync.Mutex
	rng       *rand.Rand
	cursor    motion.Point
	hasCursor bool
}

// Option configures an Actor.
type Option func(*Actor)

// WithSynthesizer sets the motion synthesizer.
func WithSynthesizer(s *motion.Synthesizer) Option { return func(a *Actor) { a.synth = s } }

// WithResolver sets the element resolver used by ClickQuery and TypeQuery.
func WithResolver(r *locate.Resolver) Option { return func(a *Actor) { a.resolver = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Actor) { a.logger = l } }

// WithClickPause sets the hesitation before a click (default 300-800ms).
func WithClickPause(r motion.Range) Option { return func(a *Actor) { a.clickPause = r } }

// WithZigzagChance sets the probability of the imprecise zigzag path (default 0.3).
func WithZigzagChance(p float64) Option { return func(a *Actor) { a.zigzagChance = p } }

// WithErrorRate sets the typo probability per character (default 0.05).
func WithErrorRate(p float64) Option { return func(a *Actor) { a.errorRate = p } }

// WithRand sets the random source (for testing).
func WithRand(rng *rand.Rand) Option { return func(a *Actor) { a.rng = rng } }

// New creates an Actor for p.
func New(p page.Page, opts ...Option) *Actor {
	a := &Actor{
		page:         p,
		logger:       slog.Default(),
		clickPause:   motion.Range{Min: 300 * time.Millisecond, Max: 800 * time.Millisecond},
		inset:        5,
		zigzagChance: 0.3,
		errorRate:    0.05,
	}
	for _, o := range opts {
		o(a)
	}
	if a.synth == nil {
		a.synth = motion.New()
	}
	if a.resolver == nil {
		a.resolver = locate.New(locate.WithLogger(a.logger))
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return a
}

// Cursor returns the last known pointer position.
func (a *Actor) Cursor() (motion.Point, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor, a.hasCursor
}

// MoveTo glides the pointer to target. Without a known position the glide
// starts 100-200px left and 50-150px above the target.
func (a *Actor) MoveTo(ctx context.Context, target motion.Point) error {
	a.mu.Lock()
	start := a.cursor
	if !a.hasCursor {
		start = a.synth.PointIn(target.X-200, target.Y-150, 100, 100, 0)
	}
	zigzag := a.rng.Float64() < a.zigzagChance
	a.mu.Unlock()

	var path motion.Path
	if zigzag {
		path = a.synth.ZigzagPath(start, target, 0)
	} else {
		path = a.synth.PointerPath(start, target, 0)
	}
	if err := a.page.MoveCursor(ctx, path); err != nil {
		return fmt.Errorf("interact: move: %w", err)
	}

	a.mu.Lock()
	a.cursor, a.hasCursor = target, true
	a.mu.Unlock()
	return nil
}

// Click moves to a random point inside el (5px from the border), hesitates,
// then clicks.
func (a *Actor) Click(ctx context.Context, el page.Element) error {
	box, err := el.Box(ctx)
	if err != nil {
		return fmt.Errorf("interact: box: %w", err)
	}
	target := a.synth.PointIn(box.X, box.Y, box.Width, box.Height, a.inset)
	if err := a.MoveTo(ctx, target); err != nil {
		return err
	}
	if err := page.Sleep(ctx, a.synth.Pause(a.clickPause)); err != nil {
		return err
	}
	if err := a.page.Click(ctx, el, false); err != nil {
		return fmt.Errorf("interact: click: %w", err)
	}
	return nil
}

// ClickQuery resolves q and clicks the element. A miss returns the
// *locate.ElementNotFoundError of the result.
func (a *Actor) ClickQuery(ctx context.Context, q locate.Query, opts ...locate.LocateOption) (locate.Result, error) {
	res, err := a.resolver.Locate(ctx, a.page, q, opts...)
	if err != nil {
		return res, err
	}
	if !res.Found {
		return res, res.Err()
	}
	a.logger.Debug("interact: click", "query", q.String(), "strategy", res.Diagnostics.StrategyName)
	return res, a.Click(ctx, res.Element)
}

// Type focuses el with a humanized click, then types text with occasional
// corrected typos. careful slows every keystroke down.
func (a *Actor) Type(ctx context.Context, el page.Element, text string, careful bool) error {
	if err := a.Click(ctx, el); err != nil {
		return err
	}
	plan := a.synth.KeystrokePlan(text, a.errorRate, careful)
	if err := a.page.SendKeys(ctx, plan); err != nil {
		return fmt.Errorf("interact: type: %w", err)
	}
	return nil
}

// TypeQuery resolves q and types into it.
func (a *Actor) TypeQuery(ctx context.Context, q locate.Query, text string, careful bool) (locate.Result, error) {
	res, err := a.resolver.Locate(ctx, a.page, q)
	if err != nil {
		return res, err
	}
	if !res.Found {
		return res, res.Err()
	}
	return res, a.Type(ctx, res.Element, text, careful)
}
