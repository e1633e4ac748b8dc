// CLAUDE:SUMMARY Human-like pointer trajectories (Bézier, zigzag) and keystroke plans with neighbour-key typos.
// Package motion synthesizes pointer paths and keystroke sequences that look
// like a person drove them. It performs no I/O: the results are handed to a
// page implementation which replays them.
package motion

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X, Y float64
}

// Waypoint is one pointer position and how long to dwell on it.
type Waypoint struct {
	X, Y  float64
	Dwell time.Duration
}

// Point returns the waypoint position.
func (w Waypoint) Point() Point { return Point{X: w.X, Y: w.Y} }

// Path is an ordered pointer trajectory. The last waypoint is the target.
type Path []Waypoint

// Duration returns the cumulative dwell of the path.
func (p Path) Duration() time.Duration {
	var d time.Duration
	for _, w := range p {
		d += w.Dwell
	}
	return d
}

// Range is an inclusive millisecond interval.
type Range struct {
	Min, Max time.Duration
}

func (r Range) sample(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int64N(int64(r.Max-r.Min)+1))
}

// Config tunes the synthesizer. Zero fields take defaults.
type Config struct {
	MinSamples int // intermediate Bézier samples, lower bound
	MaxSamples int

	Dwell       Range // per-waypoint dwell on Bézier paths
	ZigzagDwell Range // per-waypoint dwell on zigzag paths

	// CurveSpread scales the perpendicular offset of the Bézier control
	// points relative to the travel distance.
	CurveSpread float64

	// TremorAmplitude is the peak Perlin drift in pixels on intermediate waypoints.
	TremorAmplitude float64

	ZigzagMinAmplitude float64
	ZigzagMaxAmplitude float64
	ZigzagPause        float64 // probability of a micro-pause on a zigzag waypoint

	Typing        Range
	CarefulTyping Range
	Correction    Range
	CarefulFix    Range
	ThinkPause    Range
	ThinkChance   float64
}

func (c *Config) defaults() {
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.MaxSamples < c.MinSamples {
		c.MaxSamples = max(c.MinSamples, 10)
	}
	setRange(&c.Dwell, 10, 50)
	setRange(&c.ZigzagDwell, 20, 80)
	if c.CurveSpread <= 0 {
		c.CurveSpread = 0.25
	}
	if c.TremorAmplitude < 0 {
		c.TremorAmplitude = 0
	} else if c.TremorAmplitude == 0 {
		c.TremorAmplitude = 1.5
	}
	if c.ZigzagMinAmplitude <= 0 {
		c.ZigzagMinAmplitude = 20
	}
	if c.ZigzagMaxAmplitude < c.ZigzagMinAmplitude {
		c.ZigzagMaxAmplitude = max(c.ZigzagMinAmplitude, 40)
	}
	if c.ZigzagPause <= 0 {
		c.ZigzagPause = 0.3
	}
	setRange(&c.Typing, 50, 200)
	setRange(&c.CarefulTyping, 70, 300)
	setRange(&c.Correction, 200, 400)
	setRange(&c.CarefulFix, 300, 600)
	setRange(&c.ThinkPause, 500, 1200)
	if c.ThinkChance <= 0 {
		c.ThinkChance = 0.03
	}
}

func setRange(r *Range, minMs, maxMs int) {
	if r.Min <= 0 && r.Max <= 0 {
		r.Min = time.Duration(minMs) * time.Millisecond
		r.Max = time.Duration(maxMs) * time.Millisecond
	}
}

// Synthesizer generates paths and keystroke plans. It keeps no state between
// calls except its random source, so one instance may serve many contexts.
type Synthesizer struct {
	cfg   Config
	mu    sync.Mutex
	rng   *rand.Rand
	noise *perlin.Perlin
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) Option {
	return func(s *Synthesizer) { s.cfg = cfg }
}

// WithSeed makes the synthesizer deterministic (for testing).
func WithSeed(seed uint64) Option {
	return func(s *Synthesizer) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		s.noise = perlin.NewPerlin(2, 2, 3, int64(seed))
	}
}

// New creates a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{}
	for _, o := range opts {
		o(s)
	}
	s.cfg.defaults()
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.noise == nil {
		s.noise = perlin.NewPerlin(2, 2, 3, s.rng.Int64())
	}
	return s
}

// Config returns the effective configuration.
func (s *Synthesizer) Config() Config { return s.cfg }

// PointerPath returns a cubic Bézier trajectory from start to target with
// samples intermediate waypoints. samples <= 0 picks a count in
// [MinSamples, MaxSamples]. The first waypoint is start and the last is
// exactly target.
func (s *Synthesizer) PointerPath(start, target Point, samples int) Path {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.sampleCount(samples)
	dx, dy := target.X-start.X, target.Y-start.Y
	dist := math.Hypot(dx, dy)

	// Control points at 1/3 and 2/3 of the segment, pushed off the line
	// along its normal by a random share of the distance.
	var nx, ny float64
	if dist > 0 {
		nx, ny = -dy/dist, dx/dist
	}
	off1 := (s.rng.Float64()*2 - 1) * s.cfg.CurveSpread * dist
	off2 := (s.rng.Float64()*2 - 1) * s.cfg.CurveSpread * dist
	p1 := Point{X: start.X + dx/3 + nx*off1, Y: start.Y + dy/3 + ny*off1}
	p2 := Point{X: start.X + 2*dx/3 + nx*off2, Y: start.Y + 2*dy/3 + ny*off2}

	phase := s.rng.Float64() * 100
	path := make(Path, 0, n+2)
	path = append(path, Waypoint{X: start.X, Y: start.Y, Dwell: s.cfg.Dwell.sample(s.rng)})
	steps := n + 1
	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps)
		p := bezier(start, p1, p2, target, t)

		// Tremor vanishes at both ends.
		env := math.Sin(math.Pi * t)
		p.X += s.noise.Noise1D(phase+t*3) * s.cfg.TremorAmplitude * env
		p.Y += s.noise.Noise1D(phase+50+t*3) * s.cfg.TremorAmplitude * env

		path = append(path, Waypoint{X: p.X, Y: p.Y, Dwell: s.cfg.Dwell.sample(s.rng)})
	}
	path = append(path, Waypoint{X: target.X, Y: target.Y, Dwell: s.cfg.Dwell.sample(s.rng)})
	return path
}

// ZigzagPath returns the "natural but imprecise" variant: a straight line
// with alternating perpendicular offsets whose amplitude shrinks linearly
// with progress. Some waypoints carry an extra micro-pause.
func (s *Synthesizer) ZigzagPath(start, target Point, samples int) Path {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.sampleCount(samples)
	path := make(Path, 0, n+2)
	path = append(path, Waypoint{X: start.X, Y: start.Y, Dwell: s.cfg.ZigzagDwell.sample(s.rng)})

	steps := n + 1
	for i := 1; i < steps; i++ {
		progress := float64(i) / float64(steps)
		baseX := start.X + (target.X-start.X)*progress
		baseY := start.Y + (target.Y-start.Y)*progress

		span := s.cfg.ZigzagMaxAmplitude - s.cfg.ZigzagMinAmplitude
		amp := (1 - progress) * (s.cfg.ZigzagMinAmplitude + s.rng.Float64()*span)
		if i%2 == 1 {
			amp = -amp
		}

		dwell := s.cfg.ZigzagDwell.sample(s.rng)
		if s.rng.Float64() < s.cfg.ZigzagPause {
			dwell += s.cfg.ZigzagDwell.sample(s.rng)
		}
		path = append(path, Waypoint{X: baseX + amp, Y: baseY - amp, Dwell: dwell})
	}
	path = append(path, Waypoint{X: target.X, Y: target.Y, Dwell: s.cfg.ZigzagDwell.sample(s.rng)})
	return path
}

// PointIn returns a random point inside a w*h box at (x, y), inset so the
// pointer never lands on the border.
func (s *Synthesizer) PointIn(x, y, w, h, inset float64) Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Point{X: x + spread(s.rng, w, inset), Y: y + spread(s.rng, h, inset)}
}

func spread(rng *rand.Rand, size, inset float64) float64 {
	if size <= 2*inset {
		return size / 2
	}
	return inset + rng.Float64()*(size-2*inset)
}

// Pause samples a delay within r using the synthesizer's random source.
func (s *Synthesizer) Pause(r Range) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.sample(s.rng)
}

// sampleCount must be called with mu held.
func (s *Synthesizer) sampleCount(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.cfg.MinSamples + s.rng.IntN(s.cfg.MaxSamples-s.cfg.MinSamples+1)
}

func bezier(p0, p1, p2, p3 Point, t float64) Point {
	omt := 1 - t
	a := omt * omt * omt
	b := 3 * omt * omt * t
	c := 3 * omt * t * t
	d := t * t * t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}
