package locate

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/humanpace/internal/fakepage"
)

type tally struct {
	found   map[string]int
	missing int
}

func (t *tally) RecordLocate(strategy string, found bool) {
	if !found {
		t.missing++
		return
	}
	if t.found == nil {
		t.found = make(map[string]int)
	}
	t.found[strategy]++
}

func TestLocate_CSSResolvesAtThirdStrategy(t *testing.T) {
	p := fakepage.New()
	btn := &fakepage.Element{Name: "btn"}
	p.Add("#idSIButton9", btn)

	rec := &tally{}
	res, err := New(WithRecorder(rec)).Locate(context.Background(), p, ByCSS{Selector: "#idSIButton9"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if !res.Found || res.Element != btn {
		t.Fatalf("expected button, got %+v", res)
	}
	if res.Diagnostics.Strategy != 3 || res.Diagnostics.StrategyName != "selector" {
		t.Fatalf("strategy = %d (%s), want 3 (selector)", res.Diagnostics.Strategy, res.Diagnostics.StrategyName)
	}
	for _, name := range []string{"hierarchical", "fuzzy_text"} {
		if n := res.Diagnostics.Attempts[name]; n > 1 {
			t.Fatalf("%s invoked %d times before the selector strategy", name, n)
		}
	}
	if rec.found["selector"] != 1 {
		t.Fatalf("recorder = %+v", rec)
	}
}

func TestLocate_ParentChild(t *testing.T) {
	p := fakepage.New()
	card := &fakepage.Element{Name: "card"}
	parent := &fakepage.Element{Children: map[string][]*fakepage.Element{"mee-card": {card}}}
	p.Add("#daily-sets", parent)

	res, err := New().Locate(context.Background(), p, ByParentChild{Parent: "#daily-sets", Child: "mee-card"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Element != card || res.Diagnostics.Strategy != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLocate_ContainerHintScopesCSS(t *testing.T) {
	p := fakepage.New()
	inner := &fakepage.Element{Name: "inner"}
	outer := &fakepage.Element{Name: "outer"}
	p.Add(".close", outer)
	p.Add("#popup", &fakepage.Element{Children: map[string][]*fakepage.Element{".close": {inner}}})

	res, err := New().Locate(context.Background(), p, ByCSS{Selector: ".close"}, WithContainer("#popup"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Element != inner || res.Diagnostics.StrategyName != "hierarchical" {
		t.Fatalf("container hint ignored: %+v", res)
	}

	// Missing container falls through to the direct selector.
	res, err = New().Locate(context.Background(), p, ByCSS{Selector: ".close"}, WithContainer("#nope"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Element != outer || res.Diagnostics.Strategy != 3 {
		t.Fatalf("fallback failed: %+v", res)
	}
}

func TestLocate_FuzzyText(t *testing.T) {
	p := fakepage.New()
	wrapper := &fakepage.Element{Value: "Daily set  Sign in to earn more points today with Microsoft Rewards and other long text"}
	gone := &fakepage.Element{TextErr: errors.New("node detached")}
	target := &fakepage.Element{Value: "  Sign In "}
	p.Add(DefaultTextCandidates, wrapper, gone, target)

	res, err := New().Locate(context.Background(), p, ByText{Text: "sign in"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Element != target || res.Diagnostics.Strategy != 2 {
		t.Fatalf("fuzzy match failed: %+v", res)
	}
}

func TestLocate_FuzzyTextToleratesTypos(t *testing.T) {
	p := fakepage.New()
	target := &fakepage.Element{Value: "Stay signed in?"}
	p.Add(DefaultTextCandidates, target)

	res, err := New().Locate(context.Background(), p, ByText{Text: "Stay signed-in"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found {
		t.Fatal("expected a fuzzy match above 85%")
	}

	res, err = New(WithFuzzyThreshold(0.99)).Locate(context.Background(), p, ByText{Text: "Stay logged on"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found {
		t.Fatal("dissimilar text must not match")
	}
}

func TestLocate_AriaLabel(t *testing.T) {
	p := fakepage.New()
	closeBtn := &fakepage.Element{Attrs: map[string]string{"aria-label": "Close"}}
	p.Add(`[aria-label="Close"]`, closeBtn)

	res, err := New().Locate(context.Background(), p, ByAriaLabel{Label: "Close"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Element != closeBtn || res.Diagnostics.Strategy != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLocate_NotFound(t *testing.T) {
	p := fakepage.New()
	rec := &tally{}
	res, err := New(WithRecorder(rec)).Locate(context.Background(), p, ByXPath{Path: "//button[@id='x']"})
	if err != nil {
		t.Fatalf("not found must not be an error: %v", err)
	}
	if res.Found || res.Diagnostics.Strategy != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	var nf *ElementNotFoundError
	if !errors.As(res.Err(), &nf) {
		t.Fatalf("Err() = %v, want ElementNotFoundError", res.Err())
	}
	if rec.missing != 1 {
		t.Fatalf("missing = %d, want 1", rec.missing)
	}
	if p.CallCount("QueryXPath://button[@id='x']") != 1 {
		t.Fatal("xpath lookup should run exactly once")
	}
}

func TestLocate_PageErrorSurfaces(t *testing.T) {
	p := fakepage.New()
	p.Fail["Query:#gone"] = errors.New("websocket closed")
	_, err := New().Locate(context.Background(), p, ByCSS{Selector: "#gone"})
	if err == nil {
		t.Fatal("expected I/O error")
	}
}

func TestLocate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Locate(ctx, fakepage.New(), ByCSS{Selector: "a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPartialRatio(t *testing.T) {
	if r := partialRatio("sign in", "please sign in now"); r != 1 {
		t.Fatalf("partialRatio = %v, want 1", r)
	}
	if r := ratio("abc", "abd"); r < 0.66 || r > 0.67 {
		t.Fatalf("ratio = %v", r)
	}
	if r := partialRatio("", ""); r != 1 {
		t.Fatalf("empty ratio = %v", r)
	}
}
