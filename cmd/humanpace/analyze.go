package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/humanpace/htmlscan"
)

func newAnalyzeCmd() *cobra.Command {
	var filter string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Summarize saved HTML dumps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "debug_html"
			if len(args) == 1 {
				dir = args[0]
			}
			reports, err := htmlscan.AnalyzeDir(dir, filter)
			if err != nil {
				return err
			}
			sum := htmlscan.Summarize(reports)
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(struct {
					Dumps   []htmlscan.DumpReport `json:"dumps"`
					Summary htmlscan.Summary      `json:"summary"`
				}{reports, sum})
			}
			printSummary(os.Stdout, dir, reports, sum)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only dumps whose label contains this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func printSummary(w io.Writer, dir string, reports []htmlscan.DumpReport, s htmlscan.Summary) {
	fmt.Fprintf(w, "Dumps in %s: %d\n", dir, len(reports))
	for _, r := range reports {
		flags := ""
		if r.HasCaptcha {
			flags += " captcha"
		}
		if r.RateLimited {
			flags += " rate-limited"
		}
		if r.HasError {
			flags += " error"
		}
		fmt.Fprintf(w, "  %s  %-30s%s\n", r.At.Format("2006-01-02 15:04:05"), r.Label, flags)
	}
	fmt.Fprintf(w, "Error rate:        %.1f%%\n", s.ErrorRate*100)
	fmt.Fprintf(w, "CAPTCHA rate:      %.1f%%\n", s.CaptchaRate*100)
	fmt.Fprintf(w, "Rate limited:      %d\n", s.RateLimitCount)
	fmt.Fprintf(w, "Logged in:         %.1f%%\n", s.LoginSuccessRate*100)
	fmt.Fprintf(w, "On rewards page:   %.1f%%\n", s.RewardsPageRate*100)
	if s.HasPoints {
		fmt.Fprintf(w, "Points:            %d -> %d (%+d)\n", s.InitialPoints, s.FinalPoints, s.PointsEarned)
	}
}
