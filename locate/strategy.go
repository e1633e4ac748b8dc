package locate

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/hazyhaar/humanpace/page"
)

// Strategy is one step of the fallback chain. Find returns a nil element
// and nil error when nothing matches; errors are page I/O failures.
type Strategy interface {
	Name() string
	Applies(q Query, container string) bool
	Find(ctx context.Context, p page.Page, q Query, container string) (page.Element, error)
}

// Hierarchical resolves a parent then a child inside it. It serves
// ByParentChild, and any selector-expressible query when a container hint
// is supplied.
type Hierarchical struct{}

func (Hierarchical) Name() string { return "hierarchical" }

func (Hierarchical) Applies(q Query, container string) bool {
	if _, ok := q.(ByParentChild); ok {
		return true
	}
	return container != "" && childSelector(q) != ""
}

func (Hierarchical) Find(ctx context.Context, p page.Page, q Query, container string) (page.Element, error) {
	parentSel := container
	if pc, ok := q.(ByParentChild); ok {
		parentSel = pc.Parent
		if parentSel == "" {
			parentSel = "body"
		}
	}
	parent, err := p.Query(ctx, parentSel)
	if err != nil || parent == nil {
		return nil, err
	}
	return parent.Query(ctx, childSelector(q))
}

// DefaultTextCandidates are the elements scanned by FuzzyText.
const DefaultTextCandidates = "a, button, span, label, li, p, h1, h2, h3, h4, h5, h6, td, div, [role=button], [role=link]"

// FuzzyText selects the first candidate whose normalized text is similar
// enough to the query text.
type FuzzyText struct {
	Threshold  float64 // default 0.85
	Candidates string  // default DefaultTextCandidates
	// MaxSpan skips candidates whose text is more than MaxSpan times longer
	// than the query, so containers do not shadow the actual control.
	MaxSpan int // default 4
	Logger  *slog.Logger
}

func (FuzzyText) Name() string { return "fuzzy_text" }

func (FuzzyText) Applies(q Query, _ string) bool {
	t, ok := q.(ByText)
	return ok && normalize(t.Text) != ""
}

func (f FuzzyText) Find(ctx context.Context, p page.Page, q Query, _ string) (page.Element, error) {
	threshold, candidates, span := f.Threshold, f.Candidates, f.MaxSpan
	if threshold <= 0 {
		threshold = 0.85
	}
	if candidates == "" {
		candidates = DefaultTextCandidates
	}
	if span <= 0 {
		span = 4
	}

	want := normalize(q.(ByText).Text)
	limit := max(span*utf8.RuneCountInString(want), 40)

	els, err := p.QueryAll(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			// Nodes detach while we scan; skip them.
			if f.Logger != nil {
				f.Logger.Debug("locate: candidate text unavailable", "error", err)
			}
			continue
		}
		got := normalize(text)
		if got == "" || utf8.RuneCountInString(got) > limit {
			continue
		}
		var score float64
		if utf8.RuneCountInString(got) <= utf8.RuneCountInString(want) {
			score = ratio(got, want)
		} else {
			score = partialRatio(want, got)
		}
		if score >= threshold {
			return el, nil
		}
	}
	return nil, nil
}

// Selector performs a direct CSS or XPath lookup.
type Selector struct{}

func (Selector) Name() string { return "selector" }

func (Selector) Applies(q Query, _ string) bool {
	switch q.(type) {
	case ByCSS, ByXPath:
		return true
	}
	return false
}

func (Selector) Find(ctx context.Context, p page.Page, q Query, _ string) (page.Element, error) {
	switch q := q.(type) {
	case ByCSS:
		return p.Query(ctx, q.Selector)
	case ByXPath:
		return p.QueryXPath(ctx, q.Path)
	}
	return nil, nil
}

// Accessibility matches aria-label equality.
type Accessibility struct{}

func (Accessibility) Name() string { return "aria_label" }

func (Accessibility) Applies(q Query, _ string) bool {
	_, ok := q.(ByAriaLabel)
	return ok
}

func (Accessibility) Find(ctx context.Context, p page.Page, q Query, _ string) (page.Element, error) {
	label := q.(ByAriaLabel).Label
	el, err := p.Query(ctx, ariaSelector(label))
	if err != nil || el == nil {
		return nil, err
	}
	got, ok, err := el.Attribute(ctx, "aria-label")
	if err != nil {
		return nil, err
	}
	if !ok || got != label {
		return nil, nil
	}
	return el, nil
}
