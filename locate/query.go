package locate

import (
	"fmt"
	"strconv"
)

// Query is an abstract element description. Exactly one of the By* types.
type Query interface {
	fmt.Stringer
	query()
}

// ByCSS matches a CSS selector.
type ByCSS struct{ Selector string }

// ByXPath matches an XPath expression.
type ByXPath struct{ Path string }

// ByText matches rendered text approximately.
type ByText struct{ Text string }

// ByParentChild matches Child within the first match of Parent.
type ByParentChild struct{ Parent, Child string }

// ByAriaLabel matches aria-label equality.
type ByAriaLabel struct{ Label string }

func (ByCSS) query()         {}
func (ByXPath) query()       {}
func (ByText) query()        {}
func (ByParentChild) query() {}
func (ByAriaLabel) query()   {}

func (q ByCSS) String() string         { return "css=" + q.Selector }
func (q ByXPath) String() string       { return "xpath=" + q.Path }
func (q ByText) String() string        { return "text=" + strconv.Quote(q.Text) }
func (q ByParentChild) String() string { return "parent=" + q.Parent + " child=" + q.Child }
func (q ByAriaLabel) String() string   { return "aria-label=" + strconv.Quote(q.Label) }

// ariaSelector builds an attribute selector with the label escaped for CSS.
func ariaSelector(label string) string {
	return `[aria-label=` + cssString(label) + `]`
}

func cssString(s string) string {
	var b []byte
	b = append(b, '"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b = append(b, '\\', byte(r))
		case '\n':
			b = append(b, `\a `...)
		default:
			b = append(b, string(r)...)
		}
	}
	b = append(b, '"')
	return string(b)
}

// childSelector returns the selector a query contributes when resolved
// inside a container, or "" when the query cannot be expressed that way.
func childSelector(q Query) string {
	switch q := q.(type) {
	case ByCSS:
		return q.Selector
	case ByAriaLabel:
		return ariaSelector(q.Label)
	case ByParentChild:
		return q.Child
	}
	return ""
}
