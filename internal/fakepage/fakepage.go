// Package fakepage is an in-memory page.Page used by tests.
package fakepage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/page"
)

// Element is a fake DOM node.
type Element struct {
	Name     string
	Value    string // rendered text
	Attrs    map[string]string
	Rect     page.Box
	Children map[string][]*Element
	TextErr  error
}

func (e *Element) Query(_ context.Context, selector string) (page.Element, error) {
	if kids := e.Children[selector]; len(kids) > 0 {
		return kids[0], nil
	}
	return nil, nil
}

func (e *Element) Text(_ context.Context) (string, error) {
	if e.TextErr != nil {
		return "", e.TextErr
	}
	return e.Value, nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Box(_ context.Context) (page.Box, error) { return e.Rect, nil }

// Click records one click on an element.
type Click struct {
	Element *Element
	Force   bool
}

// Page is a scriptable page.Page. Zero value is usable.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	HTML       string
	StatusCode int
	HasStatus  bool
	Response   map[string]string

	CSS    map[string][]*Element
	XPaths map[string]*Element

	// OnNavigate lets a test change the page per navigation.
	OnNavigate func(p *Page, url string) error
	// OnClick runs after a click is recorded, e.g. to swap in a block page.
	OnClick func(p *Page, el *Element) error
	// Fail maps a method name ("SetViewport", "Content", "QueryAll:sel"...) to an error.
	Fail map[string]error

	Calls     map[string]int
	Moves     []motion.Path
	Typed     []motion.KeystrokePlan
	Clicks    []Click
	Extra     map[string]string
	Viewport  [2]int
	UserAgent string
	Language  string
	Platform  string
	Timezone  string
	Scripts   []string
}

// New creates an empty fake page.
func New() *Page {
	return &Page{
		CSS:    make(map[string][]*Element),
		XPaths: make(map[string]*Element),
		Fail:   make(map[string]error),
		Calls:  make(map[string]int),
	}
}

// Add registers elements for a CSS selector.
func (p *Page) Add(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CSS == nil {
		p.CSS = make(map[string][]*Element)
	}
	p.CSS[selector] = append(p.CSS[selector], els...)
}

// CallCount returns how many times a call key was recorded.
func (p *Page) CallCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[key]
}

func (p *Page) record(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Calls == nil {
		p.Calls = make(map[string]int)
	}
	p.Calls[key]++
	if err := p.Fail[key]; err != nil {
		return err
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := p.record("Navigate"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.CurrentURL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) Content(context.Context) (string, error) {
	if err := p.record("Content"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) Headers(_ context.Context, _ string) (map[string]string, error) {
	if err := p.record("Headers"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.Response))
	for k, v := range p.Response {
		out[k] = v
	}
	return out, nil
}

func (p *Page) Status(_ context.Context, _ string) (int, bool, error) {
	if err := p.record("Status"); err != nil {
		return 0, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StatusCode, p.HasStatus, nil
}

func (p *Page) Query(_ context.Context, selector string) (page.Element, error) {
	if err := p.record("Query:" + selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if els := p.CSS[selector]; len(els) > 0 {
		return els[0], nil
	}
	return nil, nil
}

func (p *Page) QueryAll(_ context.Context, selector string) ([]page.Element, error) {
	if err := p.record("QueryAll:" + selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]page.Element, 0, len(p.CSS[selector]))
	for _, e := range p.CSS[selector] {
		out = append(out, e)
	}
	return out, nil
}

func (p *Page) QueryXPath(_ context.Context, path string) (page.Element, error) {
	if err := p.record("QueryXPath:" + path); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.XPaths[path]; ok {
		return el, nil
	}
	return nil, nil
}

func (p *Page) MoveCursor(_ context.Context, path motion.Path) error {
	if err := p.record("MoveCursor"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Moves = append(p.Moves, path)
	return nil
}

func (p *Page) SendKeys(_ context.Context, plan motion.KeystrokePlan) error {
	if err := p.record("SendKeys"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed = append(p.Typed, plan)
	return nil
}

func (p *Page) Click(_ context.Context, el page.Element, force bool) error {
	if err := p.record("Click"); err != nil {
		return err
	}
	fe, ok := el.(*Element)
	if !ok {
		return fmt.Errorf("fakepage: foreign element %T", el)
	}
	p.mu.Lock()
	p.Clicks = append(p.Clicks, Click{Element: fe, Force: force})
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		return hook(p, fe)
	}
	return nil
}

func (p *Page) SetHeaders(_ context.Context, headers map[string]string) error {
	if err := p.record("SetHeaders"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Extra = make(map[string]string, len(headers))
	for k, v := range headers {
		p.Extra[k] = v
	}
	return nil
}

func (p *Page) SetViewport(_ context.Context, width, height int) error {
	if err := p.record("SetViewport"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Viewport = [2]int{width, height}
	return nil
}

func (p *Page) SetUserAgent(_ context.Context, userAgent, acceptLanguage, platform string) error {
	if err := p.record("SetUserAgent"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UserAgent, p.Language, p.Platform = userAgent, acceptLanguage, platform
	return nil
}

func (p *Page) SetTimezone(_ context.Context, timezone string) error {
	if err := p.record("SetTimezone"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Timezone = timezone
	return nil
}

func (p *Page) AddInitScript(_ context.Context, js string) error {
	if err := p.record("AddInitScript"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts = append(p.Scripts, js)
	return nil
}

var _ page.Page = (*Page)(nil)
var _ page.Element = (*Element)(nil)
