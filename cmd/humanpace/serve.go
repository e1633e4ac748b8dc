package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/humanpace/config"
	"github.com/hazyhaar/humanpace/health"
	"github.com/hazyhaar/humanpace/shield"
)

// monitorSource lists the monitors to expose.
type monitorSource interface {
	Monitors() []*health.Monitor
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type vitalsView struct {
	Context  string           `json:"context"`
	Vitals   health.Vitals    `json:"vitals"`
	Counters map[string]int64 `json:"counters"`
	Strategy map[string]int64 `json:"strategy_hits"`
}

// newRouter exposes /metrics, /vitals and /healthz.
func newRouter(src monitorSource) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(health.NewCollectorFunc(src.Monitors))

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/vitals", func(w http.ResponseWriter, _ *http.Request) {
		ms := src.Monitors()
		out := make([]vitalsView, 0, len(ms))
		for _, m := range ms {
			out = append(out, vitalsView{Context: m.Name(), Vitals: m.Vitals(), Counters: m.Snapshot(), Strategy: m.StrategyHits()})
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/vitals/{context}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "context")
		for _, m := range src.Monitors() {
			if m.Name() == name {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				fmt.Fprint(w, m.Report())
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown context"})
	})
	return r
}

// loop runs a probe round every interval until ctx is done, pruning old
// snapshots after each round.
func loop(ctx context.Context, pr *prober, cfg *config.Config, targets []config.Target, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results, err := pr.round(ctx, targets)
		if err != nil && ctx.Err() == nil {
			return err
		}
		for _, r := range results {
			if r.Error != "" {
				logger.Warn("serve: target failed", "target", r.Target, "error", r.Error)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if n, err := pr.store.Cleanup(ctx, time.Now().Add(-cfg.Health.Retention)); err != nil {
			logger.Warn("serve: cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("serve: pruned snapshots", "rows", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newServeCmd(f *rootFlags) *cobra.Command {
	var interval time.Duration
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Probe targets on an interval and expose their health over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Health.Listen
			}
			if interval <= 0 {
				interval = cfg.Health.SnapshotInterval
			}
			if len(cfg.Targets) == 0 {
				return fmt.Errorf("serve: no targets configured")
			}
			logger := slog.Default()

			store, err := health.OpenStore(cfg.Health.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			open, mgr, err := browserOpener(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()
			pr := newProber(cfg, store, open, logger)
			mgr.OnRecycle(pr.recycled)
			defer pr.Close()

			srv := &http.Server{Addr: listen, Handler: newRouter(pr), ReadHeaderTimeout: 5 * time.Second}
			errc := make(chan error, 1)
			go func() {
				logger.Info("serve: listening", "addr", listen)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			loopErr := make(chan error, 1)
			go func() { loopErr <- loop(ctx, pr, cfg, cfg.Targets, interval, logger) }()

			select {
			case err = <-errc:
			case err = <-loopErr:
			case <-ctx.Done():
			}
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if sErr := srv.Shutdown(shutCtx); sErr != nil {
				logger.Warn("serve: shutdown", "error", sErr)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between probe rounds (default health.snapshot_interval)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default health.listen)")
	return cmd
}
