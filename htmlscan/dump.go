package htmlscan

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const dumpStamp = "20060102_150405"

// dumpPolicy keeps structure the analyzer relies on (links, ids, classes,
// CAPTCHA iframes) and drops scripts, styles and forms.
func dumpPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowAttrs("id").Globally()
	p.AllowElements("iframe")
	p.AllowAttrs("src").OnElements("iframe")
	return p
}

// SaveDump writes a sanitized copy of content to dir as
// <YYYYmmdd_HHMMSS>_<label>.html and returns the path.
func SaveDump(dir, label, content string, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("htmlscan: dump dir: %w", err)
	}
	name := at.Format(dumpStamp) + "_" + sanitizeLabel(label) + ".html"
	path := filepath.Join(dir, name)
	clean := dumpPolicy().Sanitize(content)
	if err := os.WriteFile(path, []byte(clean), 0o644); err != nil {
		return "", fmt.Errorf("htmlscan: write dump: %w", err)
	}
	return path, nil
}

func sanitizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "page"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '@', r == '.':
			return r
		}
		return '_'
	}, s)
}

// DumpReport is the analysis of one saved dump.
type DumpReport struct {
	Report
	Path  string    `json:"path"`
	Label string    `json:"label"`
	At    time.Time `json:"at"` // zero when the name carries no timestamp
}

// AnalyzeDir analyzes every *.html dump in dir whose name contains filter
// (case-insensitive, empty matches all), oldest first. Unreadable files are
// reported as errors in the dump; a missing dir yields no reports.
func AnalyzeDir(dir, filter string) ([]DumpReport, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("htmlscan: glob: %w", err)
	}
	filter = strings.ToLower(filter)

	var out []DumpReport
	for _, path := range paths {
		name := filepath.Base(path)
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		dr := DumpReport{Path: path}
		dr.At, dr.Label = parseDumpName(name)

		data, err := os.ReadFile(path)
		if err != nil {
			dr.HasError = true
			dr.ErrorText = "analysis error: " + err.Error()
			out = append(out, dr)
			continue
		}
		r, err := Analyze(string(data))
		if err != nil {
			dr.HasError = true
			dr.ErrorText = "analysis error: " + err.Error()
		} else {
			dr.Report = r
		}
		out = append(out, dr)
	}

	slices.SortStableFunc(out, func(a, b DumpReport) int { return a.At.Compare(b.At) })
	return out, nil
}

func parseDumpName(name string) (time.Time, string) {
	base := strings.TrimSuffix(name, ".html")
	if len(base) >= len(dumpStamp) {
		if at, err := time.Parse(dumpStamp, base[:len(dumpStamp)]); err == nil {
			return at, strings.TrimPrefix(base[len(dumpStamp):], "_")
		}
	}
	return time.Time{}, base
}

// Summary aggregates dump reports of one session.
type Summary struct {
	TotalDumps       int     `json:"total_dumps"`
	ErrorRate        float64 `json:"error_rate"`
	CaptchaRate      float64 `json:"captcha_rate"`
	RateLimitCount   int     `json:"rate_limit_count"`
	LoginSuccessRate float64 `json:"login_success_rate"`
	RewardsPageRate  float64 `json:"rewards_page_success_rate"`
	InitialPoints    int     `json:"initial_points"`
	FinalPoints      int     `json:"final_points"`
	PointsEarned     int     `json:"points_earned"`
	HasPoints        bool    `json:"has_points"`
}

// Summarize aggregates reports in order. Points earned is the difference
// between the last and first dump that show a balance.
func Summarize(reports []DumpReport) Summary {
	s := Summary{TotalDumps: len(reports)}
	if s.TotalDumps == 0 {
		return s
	}
	var errs, captchas, logins, rewards int
	first := true
	for _, r := range reports {
		if r.HasError {
			errs++
		}
		if r.HasCaptcha {
			captchas++
		}
		if r.RateLimited {
			s.RateLimitCount++
		}
		if r.LoggedIn {
			logins++
		}
		if r.OnRewardsPage {
			rewards++
		}
		if r.HasPoints {
			if first {
				s.InitialPoints = r.Points
				first = false
			}
			s.FinalPoints = r.Points
			s.HasPoints = true
		}
	}
	n := float64(s.TotalDumps)
	s.ErrorRate = float64(errs) / n
	s.CaptchaRate = float64(captchas) / n
	s.LoginSuccessRate = float64(logins) / n
	s.RewardsPageRate = float64(rewards) / n
	if s.HasPoints {
		s.PointsEarned = s.FinalPoints - s.InitialPoints
	}
	return s
}
