package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMonitor_Vitals(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := NewMonitor("alice", WithClock(c.now))

	m.RecordLocate("selector", true)
	m.RecordLocate("selector", true)
	m.RecordLocate("fuzzy_text", true)
	m.RecordLocate("", false)
	m.RecordSignal("rate_limited")
	m.RecordSignal("rate_limited")
	m.RecordSignal("captcha_presented")
	m.RecordEvasion()
	c.t = c.t.Add(2 * time.Hour)

	v := m.Vitals()
	if v.SuccessRate != 0.75 {
		t.Fatalf("success rate = %v, want 0.75", v.SuccessRate)
	}
	if v.RateLimitPerHour != 1 {
		t.Fatalf("rate limits/h = %v, want 1", v.RateLimitPerHour)
	}
	if v.EvasionEffectiveness != 0.25 {
		t.Fatalf("evasion = %v, want 0.25", v.EvasionEffectiveness)
	}
	if v.Uptime != 2*time.Hour {
		t.Fatalf("uptime = %v", v.Uptime)
	}

	hits := m.StrategyHits()
	if hits["selector"] != 2 || hits["fuzzy_text"] != 1 {
		t.Fatalf("strategy hits = %v", hits)
	}
	snap := m.Snapshot()
	if snap[CaptchaEvents] != 1 || snap[EvasionFailure] != 3 || snap[LocateFailure] != 1 {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestMonitor_EmptyVitals(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	v := NewMonitor("idle", WithClock(c.now)).Vitals()
	if v.SuccessRate != 0 || v.RateLimitPerHour != 0 || v.EvasionEffectiveness != 0 {
		t.Fatalf("vitals with no data = %+v", v)
	}
}

func TestMonitor_IndependentContexts(t *testing.T) {
	a, b := NewMonitor("a"), NewMonitor("b")
	a.RecordSignal("soft_blocked")
	if len(b.Snapshot()) != 0 {
		t.Fatal("monitors must not share counters")
	}
}

func TestRestore(t *testing.T) {
	stored := map[string]int64{EvasionSuccess: 3, EvasionFailure: 1}
	m := Restore("carol", stored)
	m.RecordEvasion()
	if got := m.Snapshot()[EvasionSuccess]; got != 4 {
		t.Fatalf("evasion_success = %d, want 4", got)
	}
	if stored[EvasionSuccess] != 3 {
		t.Fatal("Restore must copy the stored map")
	}
	if v := m.Vitals(); v.EvasionEffectiveness != 0.8 {
		t.Fatalf("effectiveness = %g", v.EvasionEffectiveness)
	}
}

func TestMonitor_Report(t *testing.T) {
	m := NewMonitor("alice")
	m.RecordRotation("session")
	m.RecordRotation("fingerprint")
	r := m.Report()
	for _, want := range []string{"Health report: alice", "Evasion effectiveness", SessionSwaps, FingerprintSwaps} {
		if !strings.Contains(r, want) {
			t.Fatalf("report missing %q:\n%s", want, r)
		}
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	m := NewMonitor("alice")
	m.RecordLocate("selector", true)
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, m, t0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m.RecordSignal("rate_limited")
	if err := s.Save(ctx, m, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, at, err := s.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !at.Equal(t0.Add(time.Minute)) {
		t.Fatalf("at = %v", at)
	}
	if snap[LocateSuccess] != 1 || snap[RateLimitEvents] != 1 {
		t.Fatalf("snapshot = %v", snap)
	}

	if _, _, err := s.Latest(ctx, "bob"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("err = %v, want ErrNoSnapshot", err)
	}

	names, err := s.Contexts(ctx)
	if err != nil || len(names) != 1 || names[0] != "alice" {
		t.Fatalf("contexts = %v, %v", names, err)
	}

	n, err := s.Cleanup(ctx, t0.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cleanup removed %d rows, want 2", n)
	}
}

func TestCollector(t *testing.T) {
	col := NewCollector()
	m := NewMonitor("alice")
	m.RecordLocate("aria_label", true)
	col.Add(m)

	reg := prometheus.NewRegistry()
	reg.MustRegister(col)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, want := range []string{"humanpace_events_total", "humanpace_locate_success_ratio", "humanpace_uptime_seconds"} {
		if !found[want] {
			t.Fatalf("missing family %s in %v", want, found)
		}
	}
}

func TestCollectorFunc_SeesNewMonitors(t *testing.T) {
	var live []*Monitor
	col := NewCollectorFunc(func() []*Monitor { return live })
	reg := prometheus.NewRegistry()
	reg.MustRegister(col)

	families, err := reg.Gather()
	if err != nil || len(families) != 0 {
		t.Fatalf("empty source gathered %d families, err %v", len(families), err)
	}

	live = append(live, NewMonitor("bob"))
	families, err = reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("monitor added after registration not collected")
	}
}
