package motion

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestPointerPath_EndsExactlyOnTarget(t *testing.T) {
	s := New()
	start, target := Point{0, 0}, Point{100, 50}
	for i := 0; i < 50; i++ {
		p := s.PointerPath(start, target, 0)
		last := p[len(p)-1]
		if last.X != 100 || last.Y != 50 {
			t.Fatalf("last waypoint = (%v, %v), want (100, 50)", last.X, last.Y)
		}
		if p[0].X != 0 || p[0].Y != 0 {
			t.Fatalf("first waypoint = (%v, %v), want start", p[0].X, p[0].Y)
		}
		inner := len(p) - 2
		if inner < 5 || inner > 10 {
			t.Fatalf("intermediate samples = %d, want 5..10", inner)
		}
	}
}

func TestPointerPath_Property(t *testing.T) {
	s := New()
	rapid.Check(t, func(t *rapid.T) {
		start := Point{
			X: rapid.Float64Range(-2000, 2000).Draw(t, "sx"),
			Y: rapid.Float64Range(-2000, 2000).Draw(t, "sy"),
		}
		target := Point{
			X: rapid.Float64Range(-2000, 2000).Draw(t, "tx"),
			Y: rapid.Float64Range(-2000, 2000).Draw(t, "ty"),
		}
		n := rapid.IntRange(0, 20).Draw(t, "n")

		for _, p := range []Path{s.PointerPath(start, target, n), s.ZigzagPath(start, target, n)} {
			last := p[len(p)-1]
			if last.X != target.X || last.Y != target.Y {
				t.Fatalf("last = (%v, %v), want (%v, %v)", last.X, last.Y, target.X, target.Y)
			}
			if math.Hypot(p[0].X-start.X, p[0].Y-start.Y) > 1e-9 {
				t.Fatalf("first waypoint drifted from start")
			}
			for _, w := range p {
				if math.IsNaN(w.X) || math.IsNaN(w.Y) {
					t.Fatal("NaN waypoint")
				}
			}
		}
	})
}

func TestPointerPath_DwellWithinRange(t *testing.T) {
	s := New(WithSeed(7))
	cfg := s.Config()
	for _, w := range s.PointerPath(Point{10, 10}, Point{500, 400}, 8) {
		if w.Dwell < cfg.Dwell.Min || w.Dwell > cfg.Dwell.Max {
			t.Fatalf("dwell %s outside [%s, %s]", w.Dwell, cfg.Dwell.Min, cfg.Dwell.Max)
		}
	}
}

func TestZigzagPath_AmplitudeDecays(t *testing.T) {
	s := New(WithSeed(3), WithConfig(Config{ZigzagPause: 0.0001}))
	start, target := Point{0, 0}, Point{1000, 0}
	p := s.ZigzagPath(start, target, 9)
	if len(p) != 11 {
		t.Fatalf("len = %d, want 11", len(p))
	}
	steps := float64(len(p) - 1)
	for i := 1; i < len(p)-1; i++ {
		progress := float64(i) / steps
		dev := math.Abs(p[i].Y)
		limit := (1 - progress) * 40
		if dev > limit+1e-9 {
			t.Fatalf("waypoint %d deviation %.2f exceeds decaying bound %.2f", i, dev, limit)
		}
	}
}

func TestPointIn_StaysInsideInset(t *testing.T) {
	s := New(WithSeed(11))
	for i := 0; i < 200; i++ {
		p := s.PointIn(100, 200, 80, 30, 5)
		if p.X < 105 || p.X > 175 || p.Y < 205 || p.Y > 225 {
			t.Fatalf("point (%v, %v) outside inset box", p.X, p.Y)
		}
	}
	if p := s.PointIn(0, 0, 6, 6, 5); p.X != 3 || p.Y != 3 {
		t.Fatalf("tiny box should centre, got (%v, %v)", p.X, p.Y)
	}
}

func TestKeystrokePlan_NoErrors(t *testing.T) {
	s := New()
	plan := s.KeystrokePlan("abc", 0, false)
	if got := plan.Count(KeyEmit); got != 3 {
		t.Fatalf("emit events = %d, want 3", got)
	}
	if got := plan.Count(KeySubstitute); got != 0 {
		t.Fatalf("substitute events = %d, want 0", got)
	}
	if plan.Text() != "abc" {
		t.Fatalf("text = %q", plan.Text())
	}
}

func TestKeystrokePlan_AlwaysErr(t *testing.T) {
	s := New()
	plan := s.KeystrokePlan("abc", 1, false)
	if len(plan) != 9 {
		t.Fatalf("len = %d, want 9", len(plan))
	}
	for i := 0; i < 3; i++ {
		sub, bs, emit := plan[i*3], plan[i*3+1], plan[i*3+2]
		if sub.Kind != KeySubstitute || bs.Kind != KeyBackspace || emit.Kind != KeyEmit {
			t.Fatalf("group %d = %s,%s,%s", i, sub.Kind, bs.Kind, emit.Kind)
		}
		if sub.Char == emit.Char {
			t.Fatalf("substitute %q equals intended rune", sub.Char)
		}
	}
	if plan.Text() != "abc" {
		t.Fatalf("text = %q", plan.Text())
	}
}

func TestKeystrokePlan_NoNeighborMeansNoError(t *testing.T) {
	s := New()
	plan := s.KeystrokePlan("é@", 1, false)
	if plan.Count(KeySubstitute) != 0 || plan.Count(KeyBackspace) != 0 {
		t.Fatalf("runes without neighbours must not be mistyped: %+v", plan)
	}
	if plan.Count(KeyEmit) != 2 {
		t.Fatalf("emit = %d, want 2", plan.Count(KeyEmit))
	}
}

func TestKeystrokePlan_PreservesCase(t *testing.T) {
	s := New()
	plan := s.KeystrokePlan("A", 1, false)
	if plan[0].Kind != KeySubstitute {
		t.Fatalf("first event = %s", plan[0].Kind)
	}
	if plan[0].Char < 'A' || plan[0].Char > 'Z' {
		t.Fatalf("substitute for upper-case rune should be upper-case, got %q", plan[0].Char)
	}
}

func TestKeystrokePlan_CarefulIsSlower(t *testing.T) {
	s := New(WithConfig(Config{ThinkChance: 1e-12}))
	cfg := s.Config()
	for _, k := range s.KeystrokePlan("hello world", 0, true) {
		if k.Delay < cfg.CarefulTyping.Min || k.Delay > cfg.CarefulTyping.Max {
			t.Fatalf("careful delay %s outside [%s, %s]", k.Delay, cfg.CarefulTyping.Min, cfg.CarefulTyping.Max)
		}
	}
	for _, k := range s.KeystrokePlan("hello world", 0, false) {
		if k.Delay > cfg.Typing.Max {
			t.Fatalf("normal delay %s above %s", k.Delay, cfg.Typing.Max)
		}
	}
}

func TestKeystrokePlan_Property(t *testing.T) {
	s := New()
	alphabet := []rune("abcdefghijklmnopqrstuvwxyzABC0123456789 .,;-é@#")
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOf(rapid.RuneFrom(alphabet)).Draw(t, "text")
		plan := s.KeystrokePlan(text, 1, rapid.Bool().Draw(t, "careful"))

		want := 0
		for _, r := range text {
			if HasNeighbor(r) {
				want++
			}
		}
		if got := plan.Count(KeySubstitute); got != want {
			t.Fatalf("substitutes = %d, want %d", got, want)
		}
		if plan.Count(KeyBackspace) != want {
			t.Fatalf("backspaces = %d, want %d", plan.Count(KeyBackspace), want)
		}
		if plan.Text() != text {
			t.Fatalf("replayed text %q, want %q", plan.Text(), text)
		}
	})
}

func TestPath_Duration(t *testing.T) {
	p := Path{{Dwell: time.Millisecond}, {Dwell: 2 * time.Millisecond}}
	if p.Duration() != 3*time.Millisecond {
		t.Fatalf("duration = %s", p.Duration())
	}
}
