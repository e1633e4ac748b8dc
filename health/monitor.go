// CLAUDE:SUMMARY Per-context health counters (locate outcomes, detection signals, rotations) with vitals and a text report.
// Package health tracks how well one automation context is evading
// detection. A Monitor belongs to a single context (account); it is never a
// process-wide singleton. Store persists snapshots to SQLite and Collector
// exposes monitors to Prometheus.
package health

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Counter keys exported by Snapshot.
const (
	LocateSuccess    = "locate_success"
	LocateFailure    = "locate_failure"
	RateLimitEvents  = "rate_limit_events"
	SoftBlockEvents  = "soft_block_events"
	CaptchaEvents    = "captcha_events"
	NetworkErrors    = "network_errors"
	EvasionSuccess   = "evasion_success"
	EvasionFailure   = "evasion_failure"
	FingerprintSwaps = "fingerprint_rotations"
	SessionSwaps     = "session_rotations"
	BreakerAborts    = "breaker_aborts"

	strategyPrefix = "locate_strategy_"
)

// Monitor counts events of one context. Safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	name     string
	start    time.Time
	now      func() time.Time
	counters map[string]int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source (for testing).
func WithClock(fn func() time.Time) Option { return func(m *Monitor) { m.now = fn } }

// NewMonitor creates a monitor for the named context.
func NewMonitor(name string, opts ...Option) *Monitor {
	m := &Monitor{name: name, now: time.Now, counters: make(map[string]int64)}
	for _, o := range opts {
		o(m)
	}
	m.start = m.now()
	return m
}

// Restore rebuilds a monitor from stored counters so a restarted process
// keeps counting where the last snapshot left off. Uptime restarts.
func Restore(name string, counters map[string]int64, opts ...Option) *Monitor {
	m := NewMonitor(name, opts...)
	maps.Copy(m.counters, counters)
	return m
}

// Name returns the context name.
func (m *Monitor) Name() string { return m.name }

func (m *Monitor) add(key string, n int64) {
	m.mu.Lock()
	m.counters[key] += n
	m.mu.Unlock()
}

// RecordLocate implements locate.Recorder.
func (m *Monitor) RecordLocate(strategy string, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !found {
		m.counters[LocateFailure]++
		return
	}
	m.counters[LocateSuccess]++
	if strategy != "" {
		m.counters[strategyPrefix+strategy]++
	}
}

// RecordSignal counts a detection signal by kind: "rate_limited",
// "soft_blocked", "captcha_presented" or "transient_network_error".
// Every signal is also an evasion failure.
func (m *Monitor) RecordSignal(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "rate_limited":
		m.counters[RateLimitEvents]++
	case "soft_blocked":
		m.counters[SoftBlockEvents]++
	case "captcha_presented":
		m.counters[CaptchaEvents]++
	case "transient_network_error":
		m.counters[NetworkErrors]++
	default:
		m.counters["signal_"+kind]++
	}
	m.counters[EvasionFailure]++
}

// RecordEvasion counts a page that came back clean.
func (m *Monitor) RecordEvasion() { m.add(EvasionSuccess, 1) }

// RecordRotation counts an identity change: "fingerprint" or "session".
func (m *Monitor) RecordRotation(kind string) {
	switch kind {
	case "session":
		m.add(SessionSwaps, 1)
	default:
		m.add(FingerprintSwaps, 1)
	}
}

// RecordAbort counts a decision refused by an open breaker.
func (m *Monitor) RecordAbort() { m.add(BreakerAborts, 1) }

// Snapshot returns a copy of all counters as flat key/value pairs.
func (m *Monitor) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.counters)
}

// Vitals are the derived health ratios.
type Vitals struct {
	SuccessRate          float64       `json:"success_rate"`           // locate success / locate attempts
	RateLimitPerHour     float64       `json:"rate_limit_per_hour"`    // rate limit events per hour of uptime
	EvasionEffectiveness float64       `json:"evasion_effectiveness"` // clean pages / evaluated pages
	Uptime               time.Duration `json:"uptime"`
}

// Vitals computes ratios from the current counters. Ratios with no data are 0.
func (m *Monitor) Vitals() Vitals {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := Vitals{Uptime: m.now().Sub(m.start)}
	if total := m.counters[LocateSuccess] + m.counters[LocateFailure]; total > 0 {
		v.SuccessRate = float64(m.counters[LocateSuccess]) / float64(total)
	}
	if h := v.Uptime.Hours(); h > 0 {
		v.RateLimitPerHour = float64(m.counters[RateLimitEvents]) / h
	}
	if total := m.counters[EvasionSuccess] + m.counters[EvasionFailure]; total > 0 {
		v.EvasionEffectiveness = float64(m.counters[EvasionSuccess]) / float64(total)
	}
	return v
}

// StrategyHits returns successful locates per strategy name.
func (m *Monitor) StrategyHits() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for k, v := range m.counters {
		if name, ok := strings.CutPrefix(k, strategyPrefix); ok {
			out[name] = v
		}
	}
	return out
}

// Report renders a human-readable health report.
func (m *Monitor) Report() string {
	v := m.Vitals()
	snap := m.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Health report: %s\n", m.name)
	fmt.Fprintf(&b, "  Locate success rate:   %.2f%%\n", v.SuccessRate*100)
	fmt.Fprintf(&b, "  Rate limit events/h:   %.2f\n", v.RateLimitPerHour)
	fmt.Fprintf(&b, "  Evasion effectiveness: %.2f%%\n", v.EvasionEffectiveness*100)
	fmt.Fprintf(&b, "  Uptime:                %s\n", v.Uptime.Round(time.Second))
	if len(snap) > 0 {
		b.WriteString("  Counters:\n")
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			fmt.Fprintf(&b, "    %-26s %d\n", k, snap[k])
		}
	}
	return b.String()
}
