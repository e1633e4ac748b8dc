package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/humanpace/motion"
	"github.com/hazyhaar/humanpace/page"
)

// Page adapts a stealth Rod tab to page.Page.
type Page struct {
	rp     *rod.Page
	logger *slog.Logger
	router *rod.HijackRouter
	stop   context.CancelFunc

	responses *responseLog

	mu           sync.Mutex
	lastURL      string
	removeScript func() error
}

var _ page.Page = (*Page)(nil)

// OpenPage creates a stealth tab on b and starts recording main-document
// responses.
func OpenPage(ctx context.Context, b *rod.Browser, blocking []string, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rp, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if err := (proto.NetworkEnable{}).Call(rp); err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("browser: enable network: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	p := &Page{rp: rp, logger: logger, stop: cancel, responses: newResponseLog()}
	wait := rp.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return
		}
		h := make(map[string]string, len(e.Response.Headers))
		for k, v := range e.Response.Headers {
			h[k] = v.Str()
		}
		p.responses.record(e.Response.URL, e.Response.Status, h)
	})
	go wait()

	if len(blocking) > 0 {
		p.router = blockResources(rp, blocking)
	}
	return p, nil
}

// Rod exposes the underlying tab.
func (p *Page) Rod() *rod.Page { return p.rp }

// Close stops event capture and closes the tab.
func (p *Page) Close() error {
	p.stop()
	if p.router != nil {
		_ = p.router.Stop()
	}
	return p.rp.Close()
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rp := p.rp.Context(nctx)
	if err := rp.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := rp.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	p.mu.Lock()
	p.lastURL = url
	p.mu.Unlock()
	return nil
}

// URL returns the live document URL, falling back to the last navigation
// target when the tab cannot be queried.
func (p *Page) URL() string {
	if info, err := p.rp.Info(); err == nil && info.URL != "" {
		return info.URL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

func (p *Page) Content(ctx context.Context) (string, error) {
	html, err := p.rp.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: content: %w", err)
	}
	return html, nil
}

func (p *Page) Headers(_ context.Context, url string) (map[string]string, error) {
	r, ok := p.responses.lookup(url)
	if !ok {
		return nil, page.ErrNoResponse
	}
	return r.headers, nil
}

func (p *Page) Status(_ context.Context, url string) (int, bool, error) {
	r, ok := p.responses.lookup(url)
	if !ok {
		return 0, false, page.ErrNoResponse
	}
	return r.status, true, nil
}

func (p *Page) Query(ctx context.Context, selector string) (page.Element, error) {
	has, el, err := p.rp.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	els, err := p.rp.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query all %q: %w", selector, err)
	}
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out, nil
}

func (p *Page) QueryXPath(ctx context.Context, path string) (page.Element, error) {
	has, el, err := p.rp.Context(ctx).HasX(path)
	if err != nil {
		return nil, fmt.Errorf("browser: xpath %q: %w", path, err)
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

// MoveCursor replays path waypoint by waypoint, dwelling on each.
func (p *Page) MoveCursor(ctx context.Context, path motion.Path) error {
	for _, w := range path {
		if err := p.rp.Mouse.MoveTo(proto.Point{X: w.X, Y: w.Y}); err != nil {
			return fmt.Errorf("browser: mouse move: %w", err)
		}
		if err := page.Sleep(ctx, w.Dwell); err != nil {
			return err
		}
	}
	return nil
}

// SendKeys replays plan into the focused element.
func (p *Page) SendKeys(ctx context.Context, plan motion.KeystrokePlan) error {
	for _, k := range plan {
		var err error
		if k.Kind == motion.KeyBackspace {
			err = p.rp.Keyboard.Type(input.Backspace)
		} else {
			err = p.typeRune(k.Char)
		}
		if err != nil {
			return fmt.Errorf("browser: key %s: %w", k.Kind, err)
		}
		if err := page.Sleep(ctx, k.Delay); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) typeRune(r rune) error {
	s := string(r)
	down := proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyDown, Key: s, Text: s}
	if err := down.Call(p.rp); err != nil {
		return err
	}
	return proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyUp, Key: s}.Call(p.rp)
}

// Click presses the left button at the current pointer position. force
// dispatches a DOM click on el instead, for covered or off-screen targets.
func (p *Page) Click(ctx context.Context, el page.Element, force bool) error {
	e, ok := el.(*element)
	if !ok {
		return fmt.Errorf("browser: foreign element %T", el)
	}
	if force {
		if _, err := e.el.Context(ctx).Eval(`() => this.click()`); err != nil {
			return fmt.Errorf("browser: forced click: %w", err)
		}
		return nil
	}
	if err := p.rp.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}

func (p *Page) SetHeaders(_ context.Context, headers map[string]string) error {
	pairs := make([]string, 0, 2*len(headers))
	for k, v := range headers {
		pairs = append(pairs, k, v)
	}
	if _, err := p.rp.SetExtraHeaders(pairs); err != nil {
		return fmt.Errorf("browser: headers: %w", err)
	}
	return nil
}

func (p *Page) SetViewport(_ context.Context, width, height int) error {
	err := p.rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: width, Height: height, DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}
	return nil
}

func (p *Page) SetUserAgent(_ context.Context, userAgent, acceptLanguage, platform string) error {
	err := p.rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: userAgent, AcceptLanguage: acceptLanguage, Platform: platform,
	})
	if err != nil {
		return fmt.Errorf("browser: user agent: %w", err)
	}
	return nil
}

func (p *Page) SetTimezone(ctx context.Context, timezone string) error {
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: timezone}).Call(p.rp.Context(ctx)); err != nil {
		return fmt.Errorf("browser: timezone: %w", err)
	}
	return nil
}

// AddInitScript installs js for every new document, replacing the script
// a previous call installed.
func (p *Page) AddInitScript(_ context.Context, js string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeScript != nil {
		if err := p.removeScript(); err != nil {
			p.logger.Debug("browser: remove init script", "error", err)
		}
		p.removeScript = nil
	}
	remove, err := p.rp.EvalOnNewDocument(js)
	if err != nil {
		return fmt.Errorf("browser: init script: %w", err)
	}
	p.removeScript = remove
	return nil
}

// element adapts a Rod element to page.Element.
type element struct{ el *rod.Element }

func (e *element) Query(ctx context.Context, selector string) (page.Element, error) {
	has, el, err := e.el.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Box(ctx context.Context) (page.Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return page.Box{}, err
	}
	r := shape.Box()
	if r == nil {
		return page.Box{}, fmt.Errorf("browser: element has no layout box")
	}
	return page.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}
