package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	counterDesc = prometheus.NewDesc(
		"humanpace_events_total",
		"Health events recorded per automation context.",
		[]string{"context", "event"}, nil,
	)
	successRateDesc = prometheus.NewDesc(
		"humanpace_locate_success_ratio",
		"Share of element lookups that found their element.",
		[]string{"context"}, nil,
	)
	evasionDesc = prometheus.NewDesc(
		"humanpace_evasion_effectiveness_ratio",
		"Share of evaluated pages that carried no detection signal.",
		[]string{"context"}, nil,
	)
	rateLimitDesc = prometheus.NewDesc(
		"humanpace_rate_limit_events_per_hour",
		"Rate limit events per hour of uptime.",
		[]string{"context"}, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		"humanpace_uptime_seconds",
		"Seconds since the context monitor was created.",
		[]string{"context"}, nil,
	)
)

// Collector exposes a set of monitors as Prometheus metrics.
type Collector struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	source   func() []*Monitor
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{monitors: make(map[string]*Monitor)}
}

// NewCollectorFunc creates a collector that asks fn for the monitors on
// every scrape, for sets that grow while serving.
func NewCollectorFunc(fn func() []*Monitor) *Collector {
	return &Collector{monitors: make(map[string]*Monitor), source: fn}
}

// Add registers m under its name, replacing a previous monitor of that name.
func (c *Collector) Add(m *Monitor) {
	c.mu.Lock()
	c.monitors[m.Name()] = m
	c.mu.Unlock()
}

// Monitors returns the registered monitors, plus those of the source.
func (c *Collector) Monitors() []*Monitor {
	var out []*Monitor
	if c.source != nil {
		out = append(out, c.source()...)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.monitors {
		out = append(out, m)
	}
	return out
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- counterDesc
	ch <- successRateDesc
	ch <- evasionDesc
	ch <- rateLimitDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.Monitors() {
		name := m.Name()
		for k, v := range m.Snapshot() {
			ch <- prometheus.MustNewConstMetric(counterDesc, prometheus.CounterValue, float64(v), name, k)
		}
		v := m.Vitals()
		ch <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, v.SuccessRate, name)
		ch <- prometheus.MustNewConstMetric(evasionDesc, prometheus.GaugeValue, v.EvasionEffectiveness, name)
		ch <- prometheus.MustNewConstMetric(rateLimitDesc, prometheus.GaugeValue, v.RateLimitPerHour, name)
		ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, v.Uptime.Seconds(), name)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
