// CLAUDE:SUMMARY Loads humanpace YAML configuration with defaults, overlays .env variables, converts sections to package configs.
// Package config reads the humanpace configuration file and turns its
// sections into the option structs of browser, resilience, fingerprint,
// motion, locate and health.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/humanpace/browser"
	"github.com/hazyhaar/humanpace/fingerprint"
	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/resilience"
)

// Config is the top-level configuration file.
type Config struct {
	Browser     BrowserConfig      `yaml:"browser"`
	Resilience  ResilienceConfig   `yaml:"resilience"`
	Fingerprint *fingerprint.Pools `yaml:"fingerprint"` // nil = built-in pools
	Motion      MotionConfig       `yaml:"motion"`
	Locate      LocateConfig       `yaml:"locate"`
	Health      HealthConfig       `yaml:"health"`
	Targets     []Target           `yaml:"targets"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Bin               string        `yaml:"bin"`
	Stealth           string        `yaml:"stealth"` // headless | headful
	XvfbDisplay       string        `yaml:"xvfb_display"`
	MemoryLimit       int64         `yaml:"memory_limit"`
	RecycleInterval   time.Duration `yaml:"recycle_interval"`
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// ResilienceConfig mirrors resilience.Config.
type ResilienceConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	JitterMin           float64       `yaml:"jitter_min"`
	JitterMax           float64       `yaml:"jitter_max"`
	RetryAfterBuffer    float64       `yaml:"retry_after_buffer"`
	MaxRetryAfter       time.Duration `yaml:"max_retry_after"`
	RotateAfter         int           `yaml:"rotate_after"`
	SessionRequestLimit int           `yaml:"session_request_limit"`
	SessionDuration     time.Duration `yaml:"session_duration"`
	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerReset        time.Duration `yaml:"breaker_reset"`
	PaceMin             time.Duration `yaml:"pace_min"`
	PaceMax             time.Duration `yaml:"pace_max"`
	PaceMinInterval     time.Duration `yaml:"pace_min_interval"`
}

// MotionConfig tunes pointer and keyboard synthesis.
type MotionConfig struct {
	MinSamples      int           `yaml:"min_samples"`
	MaxSamples      int           `yaml:"max_samples"`
	DwellMin        time.Duration `yaml:"dwell_min"`
	DwellMax        time.Duration `yaml:"dwell_max"`
	CurveSpread     float64       `yaml:"curve_spread"`
	TremorAmplitude float64       `yaml:"tremor_amplitude"`
	ClickPauseMin   time.Duration `yaml:"click_pause_min"`
	ClickPauseMax   time.Duration `yaml:"click_pause_max"`
	ZigzagChance    float64       `yaml:"zigzag_chance"`
	TypoRate        float64       `yaml:"typo_rate"`
}

// LocateConfig tunes element resolution.
type LocateConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// HealthConfig controls snapshot persistence and the metrics listener.
type HealthConfig struct {
	DB               string        `yaml:"db"`
	Listen           string        `yaml:"listen"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	Retention        time.Duration `yaml:"retention"`
	DumpDir          string        `yaml:"dump_dir"`
}

// Target is one page probed under its own controller and monitor.
type Target struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML file. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Motion.ClickPauseMin <= 0 && c.Motion.ClickPauseMax <= 0 {
		c.Motion.ClickPauseMin, c.Motion.ClickPauseMax = 300*time.Millisecond, 800*time.Millisecond
	}
	if c.Motion.ZigzagChance <= 0 {
		c.Motion.ZigzagChance = 0.3
	}
	if c.Motion.TypoRate <= 0 {
		c.Motion.TypoRate = 0.05
	}
	if c.Locate.FuzzyThreshold <= 0 {
		c.Locate.FuzzyThreshold = 0.8
	}
	if c.Health.DB == "" {
		c.Health.DB = "humanpace.db"
	}
	if c.Health.Listen == "" {
		c.Health.Listen = ":9464"
	}
	if c.Health.SnapshotInterval <= 0 {
		c.Health.SnapshotInterval = time.Minute
	}
	if c.Health.Retention <= 0 {
		c.Health.Retention = 7 * 24 * time.Hour
	}
	if c.Health.DumpDir == "" {
		c.Health.DumpDir = "debug_html"
	}
	for i := range c.Targets {
		if c.Targets[i].Name == "" {
			c.Targets[i].Name = fmt.Sprintf("target-%d", i+1)
		}
	}
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("browser.stealth must be headless or headful, got %q", c.Browser.Stealth))
	}
	if err := c.ResilienceConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Fingerprint != nil {
		if err := c.Fingerprint.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Locate.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("locate.fuzzy_threshold must be <= 1"))
	}
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.URL == "" {
			errs = append(errs, fmt.Errorf("target %s: url is required", t.Name))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("target %s: duplicate name", t.Name))
		}
		seen[t.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadEnv loads .env files (missing files are ignored) and overlays the
// process environment on c.
func (c *Config) LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: env: %w", err)
	}
	return c.overlayEnv(os.Getenv)
}

func (c *Config) overlayEnv(getenv func(string) string) error {
	var errs []error
	if v := getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_RETRIES: invalid %q", v))
		} else {
			c.Resilience.MaxAttempts = n
		}
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"BASE_RETRY_DELAY", &c.Resilience.BaseDelay},
		{"MAX_RETRY_DELAY", &c.Resilience.MaxDelay},
	} {
		if v := getenv(d.key); v != "" {
			dur, err := parseSeconds(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
				continue
			}
			*d.dst = dur
		}
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"JITTER_MIN", &c.Resilience.JitterMin},
		{"JITTER_MAX", &c.Resilience.JitterMax},
	} {
		if v := getenv(f.key); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid %q", f.key, v))
				continue
			}
			*f.dst = x
		}
	}
	if v := getenv("HEALTH_DB"); v != "" {
		c.Health.DB = v
	}
	if v := getenv("CHROME_REMOTE_URL"); v != "" {
		c.Browser.Remote = v
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: env: %w", errors.Join(errs...))
	}
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if s, err := strconv.ParseFloat(v, 64); err == nil {
		if s < 0 {
			return 0, fmt.Errorf("negative delay %q", v)
		}
		return time.Duration(s * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", v)
	}
	return d, nil
}

// ResilienceConfig converts the resilience section on top of
// resilience.DefaultConfig; zero fields keep the default.
func (c *Config) ResilienceConfig() resilience.Config {
	r, out := c.Resilience, resilience.DefaultConfig()
	setDur(&out.BaseDelay, r.BaseDelay)
	setDur(&out.MaxDelay, r.MaxDelay)
	setDur(&out.SessionDuration, r.SessionDuration)
	setDur(&out.BreakerReset, r.BreakerReset)
	setDur(&out.MaxRetryAfter, r.MaxRetryAfter)
	setDur(&out.PaceMin, r.PaceMin)
	setDur(&out.PaceMax, r.PaceMax)
	setDur(&out.PaceMinInterval, r.PaceMinInterval)
	setFloat(&out.BackoffFactor, r.BackoffFactor)
	setFloat(&out.JitterMin, r.JitterMin)
	setFloat(&out.JitterMax, r.JitterMax)
	setFloat(&out.RetryAfterBuffer, r.RetryAfterBuffer)
	setInt(&out.RotateAfter, r.RotateAfter)
	setInt(&out.SessionRequestLimit, r.SessionRequestLimit)
	setInt(&out.BreakerThreshold, r.BreakerThreshold)
	setInt(&out.MaxAttempts, r.MaxAttempts)
	return out
}

func setDur(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Pools returns the configured fingerprint pools or the built-in ones.
func (c *Config) Pools() fingerprint.Pools {
	if c.Fingerprint != nil {
		return *c.Fingerprint
	}
	return fingerprint.DefaultPools()
}

// MotionConfig converts the motion section.
func (c *Config) MotionConfig() motion.Config {
	m := c.Motion
	return motion.Config{
		MinSamples:      m.MinSamples,
		MaxSamples:      m.MaxSamples,
		Dwell:           motion.Range{Min: m.DwellMin, Max: m.DwellMax},
		CurveSpread:     m.CurveSpread,
		TremorAmplitude: m.TremorAmplitude,
	}
}

// ClickPause returns the pre-click hesitation range.
func (c *Config) ClickPause() motion.Range {
	return motion.Range{Min: c.Motion.ClickPauseMin, Max: c.Motion.ClickPauseMax}
}

// BrowserConfig converts the browser section.
func (c *Config) BrowserConfig() browser.Config {
	b := c.Browser
	level := browser.LevelHeadless
	if b.Stealth == "headful" {
		level = browser.LevelHeadful
	}
	return browser.Config{
		RemoteURL:        b.Remote,
		Bin:              b.Bin,
		MemoryLimit:      b.MemoryLimit,
		RecycleInterval:  b.RecycleInterval,
		ResourceBlocking: b.ResourceBlocking,
		Stealth:          level,
		XvfbDisplay:      b.XvfbDisplay,
	}
}
