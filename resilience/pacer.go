package resilience

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/humanpace/page"
)

// Pacer spaces requests so a session never fires at machine speed. Delays
// grow with session age, up to twice the base.
type Pacer struct {
	min, max             time.Duration
	jitterMin, jitterMax float64
	limiter              *rate.Limiter // nil without a ceiling

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer builds a pacer from the Pace* fields of cfg.
func NewPacer(cfg Config, rng *rand.Rand) *Pacer {
	cfg.applyDefaults()
	p := &Pacer{
		min:       cfg.PaceMin,
		max:       cfg.PaceMax,
		jitterMin: cfg.PaceJitterMin,
		jitterMax: cfg.PaceJitterMax,
		rng:       rng,
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.PaceMinInterval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.PaceMinInterval), 1)
	}
	return p
}

func (p *Pacer) uniform(lo, hi float64) float64 { return lo + p.rng.Float64()*(hi-lo) }

// Delay returns the wait before the next request of s at now.
func (p *Pacer) Delay(s Session, now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	base := p.uniform(float64(p.min), float64(p.max))
	if s.Requests > 0 && s.DurationLimit > 0 {
		factor := min(2, 1+float64(s.Age(now))/float64(s.DurationLimit))
		base *= factor * p.uniform(p.jitterMin, p.jitterMax)
	}
	return time.Duration(base * p.uniform(1, 1.5))
}

// Wait sleeps the delay for s, then honours the rate ceiling.
func (p *Pacer) Wait(ctx context.Context, s Session, now time.Time) error {
	if err := page.Sleep(ctx, p.Delay(s, now)); err != nil {
		return err
	}
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return nil
}
