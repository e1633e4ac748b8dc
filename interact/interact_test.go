package interact

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/hazyhaar/humanpace/internal/fakepage"
	"github.com/hazyhaar/humanpace/locate"
	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/page"
)

func newActor(p *fakepage.Page, opts ...Option) *Actor {
	base := []Option{
		WithSynthesizer(motion.New(motion.WithSeed(42))),
		WithRand(rand.New(rand.NewPCG(1, 1))),
		WithClickPause(motion.Range{Min: time.Millisecond, Max: 2 * time.Millisecond}),
	}
	return New(p, append(base, opts...)...)
}

func TestClick_LandsInsideBox(t *testing.T) {
	p := fakepage.New()
	btn := &fakepage.Element{Rect: page.Box{X: 100, Y: 200, Width: 80, Height: 30}}
	a := newActor(p)

	for i := 0; i < 20; i++ {
		if err := a.Click(context.Background(), btn); err != nil {
			t.Fatalf("Click: %v", err)
		}
		path := p.Moves[len(p.Moves)-1]
		end := path[len(path)-1]
		if end.X < 105 || end.X > 175 || end.Y < 205 || end.Y > 225 {
			t.Fatalf("click %d landed at (%.1f, %.1f), outside the inset box", i, end.X, end.Y)
		}
	}
	if len(p.Clicks) != 20 || p.Clicks[0].Element != btn || p.Clicks[0].Force {
		t.Fatalf("clicks = %+v", p.Clicks)
	}
}

func TestMoveTo_StartsFromPreviousTarget(t *testing.T) {
	p := fakepage.New()
	a := newActor(p)
	ctx := context.Background()

	first := motion.Point{X: 400, Y: 300}
	if err := a.MoveTo(ctx, first); err != nil {
		t.Fatal(err)
	}
	start := p.Moves[0][0]
	if dx, dy := first.X-start.X, first.Y-start.Y; dx < 100 || dx > 200 || dy < 50 || dy > 150 {
		t.Fatalf("first glide starts at offset (%.1f, %.1f)", dx, dy)
	}

	second := motion.Point{X: 10, Y: 20}
	if err := a.MoveTo(ctx, second); err != nil {
		t.Fatal(err)
	}
	if got := p.Moves[1][0]; got.X != first.X || got.Y != first.Y {
		t.Fatalf("second glide starts at %+v, want %+v", got, first)
	}
	if c, ok := a.Cursor(); !ok || c != second {
		t.Fatalf("cursor = %+v", c)
	}
}

func TestClickQuery_NotFound(t *testing.T) {
	p := fakepage.New()
	a := newActor(p)
	_, err := a.ClickQuery(context.Background(), locate.ByCSS{Selector: "#missing"})
	var nf *locate.ElementNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want ElementNotFoundError", err)
	}
	if len(p.Moves) != 0 || len(p.Clicks) != 0 {
		t.Fatal("nothing may move for a missing element")
	}
}

func TestTypeQuery(t *testing.T) {
	p := fakepage.New()
	field := &fakepage.Element{Rect: page.Box{X: 0, Y: 0, Width: 300, Height: 40}}
	p.Add(`input[name="loginfmt"]`, field)
	a := newActor(p, WithErrorRate(0))

	res, err := a.TypeQuery(context.Background(), locate.ByCSS{Selector: `input[name="loginfmt"]`}, "user@example.com", false)
	if err != nil {
		t.Fatalf("TypeQuery: %v", err)
	}
	if res.Diagnostics.Strategy != 3 {
		t.Fatalf("strategy = %d", res.Diagnostics.Strategy)
	}
	if len(p.Typed) != 1 || p.Typed[0].Text() != "user@example.com" {
		t.Fatalf("typed = %+v", p.Typed)
	}
	if p.Typed[0].Count(motion.KeySubstitute) != 0 {
		t.Fatal("error rate 0 must not inject typos")
	}
	if len(p.Clicks) != 1 {
		t.Fatal("typing must focus the field first")
	}
}

func TestClick_CancelledDuringPause(t *testing.T) {
	p := fakepage.New()
	a := newActor(p, WithClickPause(motion.Range{Min: time.Hour, Max: time.Hour}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.Click(ctx, &fakepage.Element{Rect: page.Box{Width: 20, Height: 20}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if len(p.Clicks) != 0 {
		t.Fatal("click fired after cancellation")
	}
}
