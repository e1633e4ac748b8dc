package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the backoff, rotation and pacing policy of one controller.
// Zero fields take the defaults of DefaultConfig.
type Config struct {
	BaseDelay        time.Duration // first backoff step
	BackoffFactor    float64       // growth per attempt
	MaxDelay         time.Duration // cap before jitter
	JitterMin        float64
	JitterMax        float64
	RetryAfterBuffer float64       // multiplier applied to a retry-after header
	MaxRetryAfter    time.Duration // longer server-requested waits are cut to this

	RotateAfter int // attempts above this rotate the whole session

	SessionRequestLimit int
	SessionDuration     time.Duration

	BreakerThreshold int
	BreakerReset     time.Duration

	MaxAttempts int // default budget for Run

	PaceMin         time.Duration // inter-request delay range
	PaceMax         time.Duration
	PaceJitterMin   float64
	PaceJitterMax   float64
	PaceMinInterval time.Duration // hard ceiling on request rate
}

// DefaultConfig returns the policy tuned for the rewards flow.
func DefaultConfig() Config {
	return Config{
		BaseDelay:           5 * time.Second,
		BackoffFactor:       2.5,
		MaxDelay:            60 * time.Second,
		JitterMin:           0.7,
		JitterMax:           1.5,
		RetryAfterBuffer:    1.3,
		MaxRetryAfter:       10 * time.Minute,
		RotateAfter:         3,
		SessionRequestLimit: 30,
		SessionDuration:     2 * time.Hour,
		BreakerThreshold:    3,
		BreakerReset:        300 * time.Second,
		MaxAttempts:         7,
		PaceMin:             3 * time.Second,
		PaceMax:             8 * time.Second,
		PaceJitterMin:       0.8,
		PaceJitterMax:       1.2,
		PaceMinInterval:     time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterMin <= 0 && c.JitterMax <= 0 {
		c.JitterMin, c.JitterMax = d.JitterMin, d.JitterMax
	}
	if c.RetryAfterBuffer <= 0 {
		c.RetryAfterBuffer = d.RetryAfterBuffer
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = d.MaxRetryAfter
	}
	if c.RotateAfter <= 0 {
		c.RotateAfter = d.RotateAfter
	}
	if c.SessionRequestLimit <= 0 {
		c.SessionRequestLimit = d.SessionRequestLimit
	}
	if c.SessionDuration <= 0 {
		c.SessionDuration = d.SessionDuration
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = d.BreakerReset
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.PaceMin <= 0 && c.PaceMax <= 0 {
		c.PaceMin, c.PaceMax = d.PaceMin, d.PaceMax
	}
	if c.PaceJitterMin <= 0 && c.PaceJitterMax <= 0 {
		c.PaceJitterMin, c.PaceJitterMax = d.PaceJitterMin, d.PaceJitterMax
	}
	if c.PaceMinInterval < 0 {
		c.PaceMinInterval = 0
	}
}

// Validate reports inconsistent ranges.
func (c Config) Validate() error {
	var errs []error
	if c.JitterMin <= 0 || c.JitterMax < c.JitterMin {
		errs = append(errs, fmt.Errorf("jitter range [%g, %g] invalid", c.JitterMin, c.JitterMax))
	}
	if c.PaceMax < c.PaceMin {
		errs = append(errs, fmt.Errorf("pace range [%s, %s] invalid", c.PaceMin, c.PaceMax))
	}
	if c.PaceJitterMin <= 0 || c.PaceJitterMax < c.PaceJitterMin {
		errs = append(errs, fmt.Errorf("pace jitter range [%g, %g] invalid", c.PaceJitterMin, c.PaceJitterMax))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("resilience: config: %w", err)
	}
	return nil
}
