// Package enginetest provides an in-memory engine.Page/engine.Context
// double so the snapshot, actions, and resources packages can be unit tested
// without a real browser. It is a regular (non _test.go) package, the way
// net/http/httptest ships a reusable double rather than a private test
// fixture, so any package's tests can import it.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redf0x1/camofox-browser/internal/engine"
)

// Node is one fake accessibility-tree entry used to synthesize snapshot
// text and to back GetByRole/Locator resolution.
type Node struct {
	Role string
	Name string
}

// Page is a minimal, deterministic engine.Page double.
type Page struct {
	mu sync.Mutex

	url       string
	title     string
	closed    bool
	nodes     []Node
	evalFn    func(expr string) (any, error)
	ariaFn    func() (string, error)
	onDL      func(engine.Download)
	reqBody   map[string][]byte
}

// NewPage creates a fake page positioned at url with the given
// accessibility nodes available for ref resolution.
func NewPage(url string, nodes []Node) *Page {
	return &Page{url: url, title: "fake", nodes: nodes}
}

func (p *Page) Goto(_ context.Context, url string, _ engine.GotoOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *Page) URL() string { p.mu.Lock(); defer p.mu.Unlock(); return p.url }

func (p *Page) Title() (string, error) { return p.title, nil }

func (p *Page) Reload() error { return nil }

func (p *Page) GoBack() error { return nil }

func (p *Page) GoForward() error { return nil }

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) IsClosed() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.closed }

func (p *Page) Evaluate(_ context.Context, expr string) (any, error) {
	if p.evalFn != nil {
		return p.evalFn(expr)
	}
	return nil, nil
}

// SetEvaluate installs a handler for Evaluate, letting tests simulate
// timeouts, errors, and oversized results.
func (p *Page) SetEvaluate(fn func(expr string) (any, error)) { p.evalFn = fn }

// SetAriaSnapshot installs a handler for AriaSnapshot, letting tests
// simulate a page whose accessibility tree can't be captured.
func (p *Page) SetAriaSnapshot(fn func() (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ariaFn = fn
}

func (p *Page) Screenshot(bool) ([]byte, error) { return []byte("fake-png"), nil }

func (p *Page) WaitForLoadState(string, time.Duration) error { return nil }

func (p *Page) WaitForTimeout(time.Duration) {}

func (p *Page) Keyboard() engine.Keyboard { return &fakeKeyboard{} }
func (p *Page) Mouse() engine.Mouse       { return &fakeMouse{} }

func (p *Page) Locator(selector string) engine.Locator {
	return &fakeLocator{selector: selector}
}

func (p *Page) GetByRole(role string, name string) engine.Locator {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matches []Node
	for _, n := range p.nodes {
		if n.Role == role && (name == "" || n.Name == name) {
			matches = append(matches, n)
		}
	}
	return &fakeLocator{role: role, name: name, count: len(matches)}
}

// AriaSnapshot renders the registered nodes into the same
// "- role \"name\"" line shape the real accessibility tree produces, so
// snapshot package tests can exercise the real parser end to end.
func (p *Page) AriaSnapshot(string, time.Duration) (string, error) {
	p.mu.Lock()
	fn := p.ariaFn
	p.mu.Unlock()
	if fn != nil {
		return fn()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := ""
	for _, n := range p.nodes {
		if n.Name != "" {
			out += fmt.Sprintf("- %s \"%s\"\n", n.Role, n.Name)
		} else {
			out += fmt.Sprintf("- %s\n", n.Role)
		}
	}
	return out, nil
}

func (p *Page) OnDownload(fn func(engine.Download)) { p.onDL = fn }

// TriggerDownload lets a test simulate a browser download event.
func (p *Page) TriggerDownload(d engine.Download) {
	if p.onDL != nil {
		p.onDL(d)
	}
}

func (p *Page) Request() engine.RequestClient { return &fakeRequestClient{} }

type fakeKeyboard struct{ pressed []string }

func (k *fakeKeyboard) Press(key string) error { k.pressed = append(k.pressed, key); return nil }

type fakeMouse struct{}

func (m *fakeMouse) Move(float64, float64) error { return nil }
func (m *fakeMouse) Down() error                   { return nil }
func (m *fakeMouse) Up() error                     { return nil }

type fakeLocator struct {
	selector string
	role     string
	name     string
	nth      int
	count    int
}

func (l *fakeLocator) Nth(index int) engine.Locator {
	c := *l
	c.nth = index
	return &c
}

func (l *fakeLocator) Click(bool) error                  { return nil }
func (l *fakeLocator) Fill(string) error                 { return nil }
func (l *fakeLocator) Hover() error                      { return nil }
func (l *fakeLocator) ScrollIntoViewIfNeeded() error     { return nil }
func (l *fakeLocator) BoundingBox() (*engine.Rect, error) {
	return &engine.Rect{X: 10, Y: 10, Width: 50, Height: 20}, nil
}
// Evaluate returns a synthetic scroll-metrics object for any expression
// that looks like the scroll-metrics readout, and nil otherwise — enough
// for tests exercising scroll-element without a real DOM.
func (l *fakeLocator) Evaluate(expr string) (any, error) {
	if strings.Contains(expr, "scrollTop") {
		return map[string]any{
			"scrollTop": 10.0, "scrollLeft": 0.0,
			"scrollHeight": 500.0, "scrollWidth": 100.0,
			"clientHeight": 300.0, "clientWidth": 100.0,
		}, nil
	}
	return nil, nil
}
func (l *fakeLocator) Count() (int, error) {
	if l.count > 0 {
		return l.count, nil
	}
	return 1, nil
}

type fakeRequestClient struct{}

func (r *fakeRequestClient) Get(_ context.Context, _ string, _ time.Duration) (int, []byte, error) {
	return 200, []byte("fake-body"), nil
}

// Context is a fake engine.Context that always hands back the same Page.
type Context struct {
	Page    *Page
	cookies []engine.Cookie
}

func (c *Context) NewPage(context.Context) (engine.Page, error) { return c.Page, nil }
func (c *Context) Close() error                                  { return c.Page.Close() }
func (c *Context) Request() engine.RequestClient                 { return &fakeRequestClient{} }

func (c *Context) Cookies() ([]engine.Cookie, error) { return c.cookies, nil }

func (c *Context) AddCookies(cookies []engine.Cookie) error {
	c.cookies = append(c.cookies, cookies...)
	return nil
}
