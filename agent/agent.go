// CLAUDE:SUMMARY One automation context: page, fingerprint rotator, resilience controller, resolver and humanized actor wired around a single account.
// Package agent wires every humanpace component for one context (account)
// around a page: visits and clicks run under the resilience controller,
// elements resolve through the strategy chain, input goes through the
// humanized actor, and all of it counts into the context's own monitor.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hazyhaar/humanpace/config"
	"github.com/hazyhaar/humanpace/fingerprint"
	"github.com/hazyhaar/humanpace/health"
	"github.com/hazyhaar/humanpace/htmlscan"
	"github.com/hazyhaar/humanpace/idgen"
	"github.com/hazyhaar/humanpace/interact"
	"github.com/hazyhaar/humanpace/locate"
	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/page"
	"github.com/hazyhaar/humanpace/resilience"
)

// Agent drives one page for one context.
type Agent struct {
	name       string
	page       page.Page
	ctrl       *resilience.Controller
	rotator    *fingerprint.Rotator
	resolver   *locate.Resolver
	actor      *interact.Actor
	monitor    *health.Monitor
	logger     *slog.Logger
	now        func() time.Time
	navTimeout time.Duration
	dumpDir    string
}

type options struct {
	logger  *slog.Logger
	monitor *health.Monitor
	now     func() time.Time
	seed    uint64
	seeded  bool
	dumpDir string
	ids     idgen.Generator
}

// Option configures an Agent.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMonitor reuses an existing monitor, typically one restored from the store.
func WithMonitor(m *health.Monitor) Option { return func(o *options) { o.monitor = m } }

// WithClock sets the time source (for testing).
func WithClock(fn func() time.Time) Option { return func(o *options) { o.now = fn } }

// WithSeed makes every random draw of the agent reproducible.
func WithSeed(seed uint64) Option { return func(o *options) { o.seed, o.seeded = seed, true } }

// WithDumpDir saves sanitized HTML of pages that fail a visit.
func WithDumpDir(dir string) Option { return func(o *options) { o.dumpDir = dir } }

// WithIDGenerator sets how session IDs are minted.
func WithIDGenerator(g idgen.Generator) Option { return func(o *options) { o.ids = g } }

// New builds the agent and applies a first fingerprint to p.
func New(ctx context.Context, name string, p page.Page, cfg *config.Config, opts ...Option) (*Agent, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.monitor == nil {
		o.monitor = health.NewMonitor(name, health.WithClock(o.now))
	}
	logger := o.logger.With("context", name)

	src := newSource(o)
	rotator, err := fingerprint.NewRotator(
		fingerprint.WithPools(cfg.Pools()),
		fingerprint.WithRand(src()),
		fingerprint.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("agent: %s: %w", name, err)
	}

	ctrlOpts := []resilience.Option{
		resilience.WithRotator(rotator),
		resilience.WithTarget(p),
		resilience.WithMonitor(o.monitor),
		resilience.WithLogger(logger),
		resilience.WithRand(src()),
		resilience.WithClock(o.now),
	}
	if o.ids != nil {
		ctrlOpts = append(ctrlOpts, resilience.WithIDGenerator(o.ids))
	}
	ctrl, err := resilience.New(cfg.ResilienceConfig(), ctrlOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent: %s: %w", name, err)
	}

	synthOpts := []motion.Option{motion.WithConfig(cfg.MotionConfig())}
	if o.seeded {
		synthOpts = append(synthOpts, motion.WithSeed(o.seed))
	}
	resolver := locate.New(
		locate.WithRecorder(o.monitor),
		locate.WithLogger(logger),
		locate.WithFuzzyThreshold(cfg.Locate.FuzzyThreshold),
		locate.WithClock(o.now),
	)
	actor := interact.New(p,
		interact.WithSynthesizer(motion.New(synthOpts...)),
		interact.WithResolver(resolver),
		interact.WithLogger(logger),
		interact.WithRand(src()),
		interact.WithClickPause(cfg.ClickPause()),
		interact.WithZigzagChance(cfg.Motion.ZigzagChance),
		interact.WithErrorRate(cfg.Motion.TypoRate),
	)

	if _, err := rotator.Rotate(ctx, p); err != nil {
		return nil, fmt.Errorf("agent: %s: initial fingerprint: %w", name, err)
	}

	return &Agent{
		name:       name,
		page:       p,
		ctrl:       ctrl,
		rotator:    rotator,
		resolver:   resolver,
		actor:      actor,
		monitor:    o.monitor,
		logger:     logger,
		now:        o.now,
		navTimeout: cfg.Browser.NavigationTimeout,
		dumpDir:    o.dumpDir,
	}, nil
}

// newSource returns a factory of independent random streams, derived from
// the seed when one is set.
func newSource(o options) func() *rand.Rand {
	var root *rand.Rand
	if o.seeded {
		root = rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	} else {
		root = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return func() *rand.Rand { return rand.New(rand.NewPCG(root.Uint64(), root.Uint64())) }
}

func (a *Agent) Name() string                       { return a.name }
func (a *Agent) Monitor() *health.Monitor           { return a.monitor }
func (a *Agent) Controller() *resilience.Controller { return a.ctrl }
func (a *Agent) Actor() *interact.Actor             { return a.actor }

// Fingerprint returns the identity currently applied to the page.
func (a *Agent) Fingerprint() (fingerprint.Fingerprint, bool) { return a.rotator.Current() }

// Visit paces, navigates to url under the retry policy and analyzes what
// came back. A failed visit still returns the report of the last page when
// one could be read.
func (a *Agent) Visit(ctx context.Context, url string) (htmlscan.Report, error) {
	if err := a.ctrl.Ready(); err != nil {
		return htmlscan.Report{}, fmt.Errorf("agent: %s: visit %s: %w", a.name, url, err)
	}
	if err := a.ctrl.Pace(ctx); err != nil {
		return htmlscan.Report{}, err
	}
	step := func(ctx context.Context, p page.Page) error {
		return p.Navigate(ctx, url, a.navTimeout)
	}
	runErr := a.ctrl.Run(ctx, a.page, step, 0)
	if ctx.Err() != nil {
		return htmlscan.Report{}, ctx.Err()
	}

	report, err := a.inspect(ctx, url, runErr != nil)
	if runErr != nil {
		return report, fmt.Errorf("agent: %s: visit %s: %w", a.name, url, runErr)
	}
	return report, err
}

// Click resolves q and clicks it with a humanized glide. The click and the
// page it leads to run under the controller, so a block signal after the
// click is retried like a navigation. A miss is returned as
// *locate.ElementNotFoundError without touching the breaker.
func (a *Agent) Click(ctx context.Context, q locate.Query, opts ...locate.LocateOption) error {
	return a.act(ctx, q, opts, a.actor.Click)
}

// Type resolves q and types text into it with humanized keystrokes, under
// the same policy as Click.
func (a *Agent) Type(ctx context.Context, q locate.Query, text string, careful bool) error {
	return a.act(ctx, q, nil, func(ctx context.Context, el page.Element) error {
		return a.actor.Type(ctx, el, text, careful)
	})
}

// act locates q, then runs action on it as a guarded step. Retries follow a
// block page or a reload, so the element is resolved again on every attempt
// after the first; if it is gone the miss ends the run without counting as a
// page failure.
func (a *Agent) act(ctx context.Context, q locate.Query, opts []locate.LocateOption, action func(context.Context, page.Element) error) error {
	res, err := a.resolver.Locate(ctx, a.page, q, opts...)
	if err != nil {
		return fmt.Errorf("agent: %s: %w", a.name, err)
	}
	if !res.Found {
		return res.Err()
	}
	el, fresh := res.Element, true
	step := func(ctx context.Context, p page.Page) error {
		if !fresh {
			r, err := a.resolver.Locate(ctx, p, q, opts...)
			if err != nil {
				return err
			}
			if !r.Found {
				return resilience.Halt(r.Err())
			}
			el = r.Element
		}
		fresh = false
		return action(ctx, el)
	}
	return a.ctrl.Run(ctx, a.page, step, 0)
}

func (a *Agent) inspect(ctx context.Context, url string, failed bool) (htmlscan.Report, error) {
	content, err := a.page.Content(ctx)
	if err != nil {
		return htmlscan.Report{}, fmt.Errorf("agent: %s: content: %w", a.name, err)
	}
	report, err := htmlscan.Analyze(content)
	if err != nil {
		return htmlscan.Report{}, fmt.Errorf("agent: %s: analyze: %w", a.name, err)
	}
	if failed && a.dumpDir != "" {
		path, err := htmlscan.SaveDump(a.dumpDir, a.name+"_"+url, content, a.now())
		if err != nil {
			a.logger.Warn("agent: dump failed", "error", err)
		} else {
			a.logger.Info("agent: page dumped", "path", path)
		}
	}
	return report, nil
}
