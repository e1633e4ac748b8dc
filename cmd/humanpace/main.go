// CLAUDE:SUMMARY CLI entry point for humanpace: probe targets under the resilience policy, analyze HTML dumps, print vitals, serve metrics.
// Command humanpace drives humanized browser sessions and reports on their
// health.
//
// Usage:
//
//	humanpace probe --config humanpace.yaml       # visit every target once
//	humanpace analyze debug_html --filter login   # summarize saved dumps
//	humanpace vitals                              # latest stored vitals
//	humanpace serve --interval 15m                # probe loop + /metrics
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/humanpace/config"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("humanpace: fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           "humanpace",
		Short:         "Humanized, detection-aware browser sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(f.logLevel, f.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to humanpace.yaml (defaults when empty)")
	root.PersistentFlags().StringVar(&f.envFile, "env", ".env", "dotenv file overlaid on the config")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "text", "log format: text (colored) or json")

	root.AddCommand(newProbeCmd(&f), newAnalyzeCmd(), newVitalsCmd(&f), newServeCmd(&f))
	return root
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newLogger(level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
	case "text", "":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// loadConfig reads the config file then overlays the dotenv file and the
// environment.
func loadConfig(f *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	var files []string
	if f.envFile != "" {
		files = append(files, f.envFile)
	}
	if err := cfg.LoadEnv(files...); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}
