package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/humanpace/agent"
	"github.com/hazyhaar/humanpace/config"
	"github.com/hazyhaar/humanpace/health"
	"github.com/hazyhaar/humanpace/internal/fakepage"
	"github.com/hazyhaar/humanpace/page"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Resilience = config.ResilienceConfig{
		MaxAttempts:     2,
		BaseDelay:       time.Millisecond,
		BackoffFactor:   1,
		MaxDelay:        2 * time.Millisecond,
		PaceMin:         time.Millisecond,
		PaceMax:         time.Millisecond,
		PaceMinInterval: time.Millisecond,
	}
	cfg.Health.DumpDir = t.TempDir()
	return cfg
}

// fakeOpener serves the same body to every page it opens.
func fakeOpener(status int, body string) opener {
	return func(context.Context) (page.Page, func() error, error) {
		p := fakepage.New()
		p.OnNavigate = func(fp *fakepage.Page, _ string) error {
			fp.HTML, fp.StatusCode, fp.HasStatus = body, status, true
			return nil
		}
		return p, func() error { return nil }, nil
	}
}

func openStore(t *testing.T) *health.Store {
	t.Helper()
	s, err := health.OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProberRound(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t)
	body := `<html><body><div id="rewards-home">Microsoft Rewards</div><p>300 points</p></body></html>`
	pr := newProber(cfg, store, fakeOpener(200, body), slog.Default(), agent.WithSeed(1))
	defer pr.Close()

	targets := []config.Target{
		{Name: "alice", URL: "https://rewards.example/"},
		{Name: "bob", URL: "https://rewards.example/"},
	}
	results, err := pr.round(context.Background(), targets)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	for i, r := range results {
		if r.Target != targets[i].Name || r.Error != "" || r.Report.Points != 300 {
			t.Fatalf("result %d = %+v", i, r)
		}
		if r.Vitals.EvasionEffectiveness != 1 {
			t.Fatalf("effectiveness = %g", r.Vitals.EvasionEffectiveness)
		}
	}

	names, err := store.Contexts(context.Background())
	if err != nil || len(names) != 2 {
		t.Fatalf("stored contexts = %v, %v", names, err)
	}

	// A second round reuses the agents and keeps counting.
	if _, err := pr.round(context.Background(), targets); err != nil {
		t.Fatal(err)
	}
	if got := len(pr.Monitors()); got != 2 {
		t.Fatalf("monitors = %d", got)
	}
	if n := pr.Monitors()[0].Snapshot()[health.EvasionSuccess]; n != 2 {
		t.Fatalf("evasion_success = %d after two rounds", n)
	}
}

func TestProberRound_BlockedTargetDoesNotStopOthers(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t)
	calls := 0
	open := func(ctx context.Context) (page.Page, func() error, error) {
		calls++
		if calls == 1 {
			return fakeOpener(429, "<html><body>Too Many Requests</body></html>")(ctx)
		}
		return fakeOpener(200, "<html><body>ok</body></html>")(ctx)
	}
	pr := newProber(cfg, store, open, slog.Default())
	pr.parallel = 1
	defer pr.Close()

	results, err := pr.round(context.Background(), []config.Target{
		{Name: "blocked", URL: "https://rewards.example/"},
		{Name: "fine", URL: "https://rewards.example/"},
	})
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if results[0].Error == "" || !results[0].Report.RateLimited {
		t.Fatalf("blocked result = %+v", results[0])
	}
	if results[1].Error != "" {
		t.Fatalf("fine result = %+v", results[1])
	}
}

func TestProber_RestoresMonitor(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t)
	prev := health.NewMonitor("alice")
	prev.RecordEvasion()
	if err := store.Save(context.Background(), prev, time.Now()); err != nil {
		t.Fatal(err)
	}
	pr := newProber(cfg, store, fakeOpener(200, "<html><body>ok</body></html>"), slog.Default())
	defer pr.Close()
	if _, err := pr.round(context.Background(), []config.Target{{Name: "alice", URL: "https://a.example/"}}); err != nil {
		t.Fatal(err)
	}
	if n := pr.Monitors()[0].Snapshot()[health.EvasionSuccess]; n != 2 {
		t.Fatalf("evasion_success = %d, want stored 1 + this round", n)
	}
}

func TestProber_RecycleReopensPages(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t)
	opened, released := 0, 0
	base := fakeOpener(200, "<html><body>ok</body></html>")
	open := func(ctx context.Context) (page.Page, func() error, error) {
		opened++
		pg, _, err := base(ctx)
		return pg, func() error { released++; return nil }, err
	}
	pr := newProber(cfg, store, open, slog.Default())
	pr.parallel = 1
	defer pr.Close()
	targets := []config.Target{{Name: "alice", URL: "https://a.example/"}}

	if _, err := pr.round(context.Background(), targets); err != nil {
		t.Fatal(err)
	}
	pr.recycled(nil)
	if released != 1 {
		t.Fatalf("released = %d after recycle, want 1", released)
	}
	results, err := pr.round(context.Background(), targets)
	if err != nil || results[0].Error != "" {
		t.Fatalf("round after recycle: %v %+v", err, results)
	}
	if opened != 2 {
		t.Fatalf("opened = %d, want a fresh page after recycle", opened)
	}
	if n := pr.Monitors()[0].Snapshot()[health.EvasionSuccess]; n != 2 {
		t.Fatalf("evasion_success = %d, monitor must survive the recycle", n)
	}
}

type staticSource []*health.Monitor

func (s staticSource) Monitors() []*health.Monitor { return s }

func TestRouter(t *testing.T) {
	m := health.NewMonitor("alice")
	m.RecordLocate("selector", true)
	srv := httptest.NewServer(newRouter(staticSource{m}))
	defer srv.Close()

	get := func(path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp, string(b)
	}

	if resp, _ := get("/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz = %d", resp.StatusCode)
	}
	resp, body := get("/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `humanpace_events_total{context="alice",event="locate_success"} 1`) {
		t.Fatalf("/metrics = %d\n%s", resp.StatusCode, body)
	}
	resp, body = get("/vitals")
	var views []vitalsView
	if err := json.Unmarshal([]byte(body), &views); err != nil || len(views) != 1 || views[0].Vitals.SuccessRate != 1 {
		t.Fatalf("/vitals = %d %s (%v)", resp.StatusCode, body, err)
	}
	if resp, body := get("/vitals/alice"); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Health report: alice") {
		t.Fatalf("/vitals/alice = %d %s", resp.StatusCode, body)
	}
	if resp, _ := get("/vitals/nobody"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/vitals/nobody = %d", resp.StatusCode)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := parseLevel("DEBUG"); err != nil || l != slog.LevelDebug {
		t.Fatalf("debug = %v, %v", l, err)
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := newLogger("info", "xml"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestTargetsFor(t *testing.T) {
	cfg := config.Default()
	cfg.Targets = []config.Target{{Name: "alice", URL: "https://a.example/"}}
	ts := targetsFor(cfg, []string{"https://b.example/"})
	if len(ts) != 2 || ts[1].Name != "arg-1" {
		t.Fatalf("targets = %+v", ts)
	}
}
