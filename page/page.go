// Package page defines the browser capability the resilience core drives.
// The go-rod implementation lives in package browser; tests use
// internal/fakepage.
package page

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/humanpace/motion"
)

// ErrNoResponse is returned by Status and Headers when no main-document
// response has been observed for the URL.
var ErrNoResponse = errors.New("page: no response recorded")

// Box is an element's bounding rectangle in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Center returns the middle of the box.
func (b Box) Center() motion.Point {
	return motion.Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Element is a handle on a live DOM node. Handles are owned by the caller.
type Element interface {
	// Query returns the first descendant matching a CSS selector, or nil.
	Query(ctx context.Context, selector string) (Element, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Box returns the element's bounding box.
	Box(ctx context.Context) (Box, error)
}

// Page is the browsing context capability. Query methods return a nil
// Element and a nil error when nothing matches; errors mean the page could
// not be talked to.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL() string
	Content(ctx context.Context) (string, error)
	Headers(ctx context.Context, url string) (map[string]string, error)
	Status(ctx context.Context, url string) (int, bool, error)

	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	QueryXPath(ctx context.Context, path string) (Element, error)

	MoveCursor(ctx context.Context, path motion.Path) error
	SendKeys(ctx context.Context, plan motion.KeystrokePlan) error
	Click(ctx context.Context, el Element, force bool) error

	SetHeaders(ctx context.Context, headers map[string]string) error
	SetViewport(ctx context.Context, width, height int) error
	SetUserAgent(ctx context.Context, userAgent, acceptLanguage, platform string) error
	SetTimezone(ctx context.Context, timezone string) error
	AddInitScript(ctx context.Context, js string) error
}

// Snapshot is what the resilience controller inspects after a navigation
// or click: the main response status and headers, plus the page HTML.
type Snapshot struct {
	URL       string
	Status    int
	HasStatus bool
	Headers   map[string]string // lower-cased keys
	Content   string
	At        time.Time
}

// Header returns a header value by case-insensitive name.
func (s Snapshot) Header(name string) (string, bool) {
	v, ok := s.Headers[strings.ToLower(name)]
	return v, ok
}

// NormalizeHeaders lower-cases header names.
func NormalizeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
