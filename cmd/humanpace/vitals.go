package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/humanpace/health"
)

// storedVitals is the latest persisted state of one context.
type storedVitals struct {
	Context  string           `json:"context"`
	TakenAt  time.Time        `json:"taken_at"`
	Vitals   health.Vitals    `json:"vitals"`
	Counters map[string]int64 `json:"counters"`
	monitor  *health.Monitor
}

func loadVitals(ctx context.Context, store *health.Store) ([]storedVitals, error) {
	names, err := store.Contexts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]storedVitals, 0, len(names))
	for _, name := range names {
		counters, at, err := store.Latest(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("vitals: %s: %w", name, err)
		}
		m := health.Restore(name, counters)
		out = append(out, storedVitals{Context: name, TakenAt: at, Vitals: m.Vitals(), Counters: counters, monitor: m})
	}
	return out, nil
}

func newVitalsCmd(f *rootFlags) *cobra.Command {
	var asJSON bool
	var prune time.Duration
	cmd := &cobra.Command{
		Use:   "vitals",
		Short: "Print the latest stored health of every context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			store, err := health.OpenStore(cfg.Health.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				n, err := store.Cleanup(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "pruned %d rows\n", n)
			}

			vs, err := loadVitals(ctx, store)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(vs)
			}
			printVitals(os.Stdout, vs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete snapshots older than this first")
	return cmd
}

func printVitals(w io.Writer, vs []storedVitals) {
	if len(vs) == 0 {
		fmt.Fprintln(w, "no snapshots stored")
		return
	}
	for _, v := range vs {
		fmt.Fprintf(w, "Snapshot %s\n", v.TakenAt.Local().Format(time.DateTime))
		fmt.Fprint(w, v.monitor.Report())
	}
}
