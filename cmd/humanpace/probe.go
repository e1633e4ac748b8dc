package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/humanpace/agent"
	"github.com/hazyhaar/humanpace/browser"
	"github.com/hazyhaar/humanpace/config"
	"github.com/hazyhaar/humanpace/health"
	"github.com/hazyhaar/humanpace/htmlscan"
	"github.com/hazyhaar/humanpace/page"
)

// opener returns a fresh page and the function that releases it.
type opener func(ctx context.Context) (page.Page, func() error, error)

// Result is the outcome of one target in one round.
type Result struct {
	Target string          `json:"target"`
	URL    string          `json:"url"`
	Report htmlscan.Report `json:"report"`
	Vitals health.Vitals   `json:"vitals"`
	Error  string          `json:"error,omitempty"`
}

// prober keeps one agent per target across rounds, so sessions, breakers
// and monitors survive between visits.
type prober struct {
	cfg      *config.Config
	store    *health.Store
	open     opener
	logger   *slog.Logger
	parallel int
	opts     []agent.Option

	mu       sync.Mutex
	agents   map[string]*agent.Agent
	monitors map[string]*health.Monitor // outlive agents dropped by reset
	closers  []func() error
}

func newProber(cfg *config.Config, store *health.Store, open opener, logger *slog.Logger, opts ...agent.Option) *prober {
	return &prober{
		cfg:      cfg,
		store:    store,
		open:     open,
		logger:   logger,
		parallel: 4,
		opts:     opts,
		agents:   make(map[string]*agent.Agent),
		monitors: make(map[string]*health.Monitor),
	}
}

// monitor returns the target's live monitor, restoring it from its latest
// snapshot the first time.
func (p *prober) monitor(ctx context.Context, name string) (*health.Monitor, error) {
	p.mu.Lock()
	m, ok := p.monitors[name]
	p.mu.Unlock()
	if ok {
		return m, nil
	}
	counters, _, err := p.store.Latest(ctx, name)
	switch {
	case errors.Is(err, health.ErrNoSnapshot):
		return health.NewMonitor(name), nil
	case err != nil:
		return nil, err
	}
	return health.Restore(name, counters), nil
}

func (p *prober) agent(ctx context.Context, t config.Target) (*agent.Agent, error) {
	p.mu.Lock()
	a, ok := p.agents[t.Name]
	p.mu.Unlock()
	if ok {
		return a, nil
	}

	m, err := p.monitor(ctx, t.Name)
	if err != nil {
		return nil, err
	}
	pg, release, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]agent.Option{
		agent.WithLogger(p.logger),
		agent.WithMonitor(m),
		agent.WithDumpDir(p.cfg.Health.DumpDir),
	}, p.opts...)
	a, err = agent.New(ctx, t.Name, pg, p.cfg, opts...)
	if err != nil {
		_ = release()
		return nil, err
	}

	p.mu.Lock()
	p.agents[t.Name] = a
	p.monitors[t.Name] = m
	p.closers = append(p.closers, release)
	p.mu.Unlock()
	return a, nil
}

// Monitors returns the live monitors, sorted by name.
func (p *prober) Monitors() []*health.Monitor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*health.Monitor, 0, len(p.monitors))
	for _, m := range p.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// round visits every target once, each in its own context. A blocked target
// does not cancel the others; only persistence failures abort the round.
func (p *prober) round(ctx context.Context, targets []config.Target) ([]Result, error) {
	results := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)

	for i, t := range targets {
		g.Go(func() error {
			res := Result{Target: t.Name, URL: t.URL}
			a, err := p.agent(gctx, t)
			if err != nil {
				res.Error = err.Error()
				results[i] = res
				return nil
			}
			res.Report, err = a.Visit(gctx, t.URL)
			if err != nil {
				res.Error = err.Error()
				p.logger.Warn("probe: visit failed", "target", t.Name, "error", err)
			}
			res.Vitals = a.Monitor().Vitals()
			results[i] = res
			if err := p.store.Save(gctx, a.Monitor(), time.Now()); err != nil {
				return fmt.Errorf("probe: save %s: %w", t.Name, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

// reset releases every page and drops the agents, so the next round opens
// fresh pages. Monitors are kept.
func (p *prober) reset() error {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.agents = make(map[string]*agent.Agent)
	p.mu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// recycled is the browser.Manager recycle hook: pages of the old Chrome are
// dead, so agents reopen on the next round.
func (p *prober) recycled(*rod.Browser) {
	if err := p.reset(); err != nil {
		p.logger.Debug("probe: closing pages of recycled browser", "error", err)
	}
	p.logger.Info("probe: browser recycled, agents will reopen pages")
}

func (p *prober) Close() error { return p.reset() }

// targetsFor merges configured targets with URLs given on the command line.
func targetsFor(cfg *config.Config, args []string) []config.Target {
	targets := append([]config.Target(nil), cfg.Targets...)
	for i, u := range args {
		targets = append(targets, config.Target{Name: fmt.Sprintf("arg-%d", i+1), URL: u})
	}
	return targets
}

// browserOpener starts Chrome and opens one stealth tab per call. The
// caller registers its recycle hook on the returned manager.
func browserOpener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (opener, *browser.Manager, error) {
	bc := cfg.BrowserConfig()
	bc.Logger = logger
	mgr := browser.NewManager(bc)
	if err := mgr.Start(ctx); err != nil {
		return nil, nil, err
	}
	open := func(ctx context.Context) (page.Page, func() error, error) {
		pg, err := mgr.NewPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return open, mgr, nil
}

func newProbeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [url...]",
		Short: "Visit every target once under the retry and rotation policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			targets := targetsFor(cfg, args)
			if len(targets) == 0 {
				return fmt.Errorf("probe: no targets (add targets to the config or pass URLs)")
			}

			store, err := health.OpenStore(cfg.Health.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := slog.Default()
			open, mgr, err := browserOpener(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()

			pr := newProber(cfg, store, open, logger)
			mgr.OnRecycle(pr.recycled)
			defer pr.Close()
			results, err := pr.round(ctx, targets)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, r := range results {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
