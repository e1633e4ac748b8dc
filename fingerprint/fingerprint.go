// CLAUDE:SUMMARY Draws coherent browser identities from configured pools and applies them atomically to a page.
// Package fingerprint produces internally consistent browser identity
// profiles and applies them to a browsing context.
package fingerprint

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
)

//go:embed evasions.js
var evasionsJS string

// Viewport is the emulated window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is one identity. It is replaced on rotation, never mutated.
type Fingerprint struct {
	UserAgent           string   `json:"userAgent"`
	Locale              string   `json:"locale"`
	Languages           []string `json:"languages"`
	Platform            string   `json:"platform"`
	CHPlatform          string   `json:"chPlatform"`
	Viewport            Viewport `json:"viewport"`
	Timezone            string   `json:"timezone"`
	WebGLVendor         string   `json:"webglVendor"`
	WebGLRenderer       string   `json:"webglRenderer"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
}

// AcceptLanguage renders the Accept-Language header for the locale.
func (f Fingerprint) AcceptLanguage() string {
	if len(f.Languages) == 0 {
		return f.Locale
	}
	parts := make([]string, 0, len(f.Languages))
	for i, l := range f.Languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Headers returns the extra HTTP headers the identity implies.
func (f Fingerprint) Headers() map[string]string {
	return map[string]string{
		"User-Agent":         f.UserAgent,
		"Accept-Language":    f.AcceptLanguage(),
		"Sec-CH-UA-Platform": fmt.Sprintf("%q", f.CHPlatform),
	}
}

// Script returns the init script overriding automation-detection surfaces.
func (f Fingerprint) Script() (string, error) {
	persona := map[string]any{
		"platform":            f.Platform,
		"languages":           f.Languages,
		"hardwareConcurrency": f.HardwareConcurrency,
		"deviceMemory":        f.DeviceMemory,
		"width":               f.Viewport.Width,
		"height":              f.Viewport.Height,
		"webglVendor":         f.WebGLVendor,
		"webglRenderer":       f.WebGLRenderer,
	}
	if len(f.Languages) == 0 {
		persona["languages"] = []string{f.Locale}
	}
	data, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal persona: %w", err)
	}
	return "(" + strings.TrimSpace(evasionsJS) + ")(" + string(data) + ");", nil
}

// Target is the part of a browsing context a fingerprint is applied to.
// page.Page satisfies it.
type Target interface {
	SetHeaders(ctx context.Context, headers map[string]string) error
	SetViewport(ctx context.Context, width, height int) error
	SetUserAgent(ctx context.Context, userAgent, acceptLanguage, platform string) error
	SetTimezone(ctx context.Context, timezone string) error
	AddInitScript(ctx context.Context, js string) error
}

// Rotator draws fingerprints from pools and applies them.
type Rotator struct {
	pools  Pools
	logger *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	current *Fingerprint
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithPools replaces the default pools.
func WithPools(p Pools) Option { return func(r *Rotator) { r.pools = p } }

// WithRand sets the random source (for testing).
func WithRand(rng *rand.Rand) Option { return func(r *Rotator) { r.rng = rng } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Rotator) { r.logger = l } }

// NewRotator creates a Rotator. It fails when the pools cannot produce a
// complete fingerprint.
func NewRotator(opts ...Option) (*Rotator, error) {
	r := &Rotator{pools: DefaultPools()}
	for _, o := range opts {
		o(r)
	}
	if err := r.pools.Validate(); err != nil {
		return nil, err
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Pools returns the configured pools.
func (r *Rotator) Pools() Pools { return r.pools }

// Current returns the active fingerprint, or false before the first rotation.
func (r *Rotator) Current() (Fingerprint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Fingerprint{}, false
	}
	return *r.current, true
}

// Generate samples a coherent fingerprint without applying it.
func (r *Rotator) Generate() Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generateLocked()
}

func (r *Rotator) generateLocked() Fingerprint {
	p := r.pools
	agent := p.Agents[r.rng.IntN(len(p.Agents))]
	loc := p.Locales[r.rng.IntN(len(p.Locales))]
	res := p.Resolutions[r.rng.IntN(len(p.Resolutions))]

	var gpus []GPU
	for _, g := range p.GPUs {
		if g.fits(agent.Platform) {
			gpus = append(gpus, g)
		}
	}
	if len(gpus) == 0 {
		gpus = p.GPUs
	}
	gpu := gpus[r.rng.IntN(len(gpus))]

	fp := Fingerprint{
		UserAgent:     agent.UserAgent,
		Locale:        loc.Tag,
		Languages:     append([]string(nil), loc.Languages...),
		Platform:      agent.Platform,
		CHPlatform:    agent.CHPlatform,
		Viewport:      Viewport{Width: res.Width, Height: res.Height},
		Timezone:      loc.Timezones[r.rng.IntN(len(loc.Timezones))],
		WebGLVendor:   gpu.Vendor,
		WebGLRenderer: gpu.Renderer,
	}
	if len(fp.Languages) == 0 {
		fp.Languages = []string{loc.Tag}
	}
	fp.HardwareConcurrency = pick(r.rng, p.Concurrency, 8)
	fp.DeviceMemory = pick(r.rng, p.Memory, 8)
	return fp
}

func pick(rng *rand.Rand, xs []int, fallback int) int {
	if len(xs) == 0 {
		return fallback
	}
	return xs[rng.IntN(len(xs))]
}

// Rotate samples a new fingerprint and applies it to target. When any step
// fails the previous fingerprint is re-applied and stays current.
func (r *Rotator) Rotate(ctx context.Context, target Target) (Fingerprint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.generateLocked()
	if err := apply(ctx, target, next); err != nil {
		if r.current != nil {
			if rbErr := apply(ctx, target, *r.current); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("fingerprint: rollback: %w", rbErr))
			}
		}
		r.logger.Warn("fingerprint: rotation failed", "error", err)
		return Fingerprint{}, err
	}
	r.current = &next
	r.logger.Info("fingerprint: rotated",
		"platform", next.Platform,
		"locale", next.Locale,
		"viewport", fmt.Sprintf("%dx%d", next.Viewport.Width, next.Viewport.Height),
		"timezone", next.Timezone)
	return next, nil
}

// Apply pushes fp to target without sampling. Used to restore a saved identity.
func (r *Rotator) Apply(ctx context.Context, target Target, fp Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := apply(ctx, target, fp); err != nil {
		return err
	}
	r.current = &fp
	return nil
}

func apply(ctx context.Context, t Target, fp Fingerprint) error {
	script, err := fp.Script()
	if err != nil {
		return err
	}
	if err := t.SetUserAgent(ctx, fp.UserAgent, fp.AcceptLanguage(), fp.Platform); err != nil {
		return fmt.Errorf("fingerprint: user agent: %w", err)
	}
	if err := t.SetHeaders(ctx, fp.Headers()); err != nil {
		return fmt.Errorf("fingerprint: headers: %w", err)
	}
	if err := t.SetViewport(ctx, fp.Viewport.Width, fp.Viewport.Height); err != nil {
		return fmt.Errorf("fingerprint: viewport: %w", err)
	}
	if err := t.SetTimezone(ctx, fp.Timezone); err != nil {
		return fmt.Errorf("fingerprint: timezone: %w", err)
	}
	if err := t.AddInitScript(ctx, script); err != nil {
		return fmt.Errorf("fingerprint: init script: %w", err)
	}
	return nil
}
