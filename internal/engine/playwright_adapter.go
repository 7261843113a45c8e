package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ConnectOverCDP attaches to a running Chrome instance (the teacher's
// Docker-launched browserless/chrome container, reachable at wsEndpoint)
// and returns the first browser context, matching the "persistent profile
// mounted into the container" model from spec §4.4.
func ConnectOverCDP(pw *playwright.Playwright, wsEndpoint string, seed *SeedApply) (Context, error) {
	browser, err := pw.Chromium.ConnectOverCDP(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connect over cdp: %w", err)
	}

	contexts := browser.Contexts()
	var bctx playwright.BrowserContext
	if len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		opts := playwright.BrowserNewContextOptions{}
		if seed != nil {
			if seed.Locale != "" {
				opts.Locale = playwright.String(seed.Locale)
			}
			if seed.Viewport != nil {
				opts.Viewport = &playwright.Size{Width: seed.Viewport.Width, Height: seed.Viewport.Height}
			}
		}
		bctx, err = browser.NewContext(opts)
		if err != nil {
			return nil, fmt.Errorf("new context: %w", err)
		}
	}

	return &pwContext{browser: browser, ctx: bctx}, nil
}

// SeedApply carries the one-time seed options applied on first launch.
type SeedApply struct {
	Locale   string
	Viewport *Size
}

// Size mirrors models.Size to avoid an import cycle into pkg/models from
// the engine package.
type Size struct{ Width, Height int }

type pwContext struct {
	browser playwright.Browser
	ctx     playwright.BrowserContext
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &pwPage{page: page, bctx: c.ctx}, nil
}

func (c *pwContext) Close() error {
	if err := c.ctx.Close(); err != nil {
		return err
	}
	return c.browser.Close()
}

func (c *pwContext) Request() RequestClient {
	return &pwRequestClient{ctx: c.ctx}
}

func (c *pwContext) Cookies() ([]Cookie, error) {
	raw, err := c.ctx.Cookies()
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, ck := range raw {
		out = append(out, Cookie{
			Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path,
			Expires: ck.Expires, HTTPOnly: ck.HttpOnly, Secure: ck.Secure,
		})
	}
	return out, nil
}

func (c *pwContext) AddCookies(cookies []Cookie) error {
	opts := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, ck := range cookies {
		oc := playwright.OptionalCookie{
			Name: ck.Name, Value: ck.Value,
			HttpOnly: &ck.HTTPOnly, Secure: &ck.Secure,
		}
		if ck.Domain != "" {
			oc.Domain = &ck.Domain
		}
		if ck.Path != "" {
			oc.Path = &ck.Path
		}
		if ck.Expires != 0 {
			oc.Expires = &ck.Expires
		}
		opts = append(opts, oc)
	}
	return c.ctx.AddCookies(opts)
}

type pwRequestClient struct {
	ctx playwright.BrowserContext
}

func (r *pwRequestClient) Get(_ context.Context, url string, timeout time.Duration) (int, []byte, error) {
	ms := float64(timeout.Milliseconds())
	resp, err := r.ctx.Request().Get(url, playwright.APIRequestContextGetOptions{Timeout: &ms})
	if err != nil {
		return 0, nil, err
	}
	body, err := resp.Body()
	if err != nil {
		return resp.Status(), nil, err
	}
	return resp.Status(), body, nil
}

type pwPage struct {
	page playwright.Page
	bctx playwright.BrowserContext
}

func (p *pwPage) Goto(_ context.Context, url string, opts GotoOptions) error {
	po := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		wu := playwright.WaitUntilState(opts.WaitUntil)
		po.WaitUntil = &wu
	}
	if opts.Timeout > 0 {
		ms := float64(opts.Timeout.Milliseconds())
		po.Timeout = &ms
	}
	_, err := p.page.Goto(url, po)
	return err
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Title() (string, error) { return p.page.Title() }

func (p *pwPage) Reload() error {
	_, err := p.page.Reload()
	return err
}

func (p *pwPage) GoBack() error {
	_, err := p.page.GoBack()
	return err
}

func (p *pwPage) GoForward() error {
	_, err := p.page.GoForward()
	return err
}

func (p *pwPage) Close() error { return p.page.Close() }

func (p *pwPage) IsClosed() bool { return p.page.IsClosed() }

func (p *pwPage) Evaluate(_ context.Context, expression string) (any, error) {
	return p.page.Evaluate(expression)
}

func (p *pwPage) Screenshot(fullPage bool) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{FullPage: &fullPage})
}

func (p *pwPage) WaitForLoadState(state string, timeout time.Duration) error {
	opts := playwright.PageWaitForLoadStateOptions{}
	if state != "" {
		s := playwright.LoadState(state)
		opts.State = &s
	}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		opts.Timeout = &ms
	}
	return p.page.WaitForLoadState(opts)
}

func (p *pwPage) WaitForTimeout(d time.Duration) {
	p.page.WaitForTimeout(float64(d.Milliseconds()))
}

func (p *pwPage) Keyboard() Keyboard { return &pwKeyboard{kb: p.page.Keyboard()} }
func (p *pwPage) Mouse() Mouse       { return &pwMouse{m: p.page.Mouse()} }

func (p *pwPage) Locator(selector string) Locator {
	return &pwLocator{loc: p.page.Locator(selector)}
}

func (p *pwPage) GetByRole(role string, name string) Locator {
	opts := playwright.PageGetByRoleOptions{}
	if name != "" {
		opts.Name = name
	}
	return &pwLocator{loc: p.page.GetByRole(playwright.AriaRole(role), opts)}
}

func (p *pwPage) AriaSnapshot(selector string, timeout time.Duration) (string, error) {
	opts := playwright.LocatorAriaSnapshotOptions{}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		opts.Timeout = &ms
	}
	return p.page.Locator(selector).AriaSnapshot(opts)
}

func (p *pwPage) OnDownload(fn func(Download)) {
	p.page.OnDownload(func(d playwright.Download) {
		fn(Download{
			SuggestedFilename: d.SuggestedFilename(),
			URL:               d.URL(),
			SaveAs:            d.SaveAs,
			Failure: func() string {
				msg, _ := d.Failure()
				return msg
			},
		})
	})
}

func (p *pwPage) Request() RequestClient {
	return &pwRequestClient{ctx: p.bctx}
}

type pwKeyboard struct{ kb playwright.Keyboard }

func (k *pwKeyboard) Press(key string) error { return k.kb.Press(key) }

type pwMouse struct{ m playwright.Mouse }

func (m *pwMouse) Move(x, y float64) error { return m.m.Move(x, y) }
func (m *pwMouse) Down() error              { return m.m.Down() }
func (m *pwMouse) Up() error                { return m.m.Up() }

type pwLocator struct{ loc playwright.Locator }

func (l *pwLocator) Nth(index int) Locator { return &pwLocator{loc: l.loc.Nth(index)} }

func (l *pwLocator) Click(force bool) error {
	opts := playwright.LocatorClickOptions{}
	if force {
		opts.Force = &force
	}
	return l.loc.Click(opts)
}

func (l *pwLocator) Fill(value string) error { return l.loc.Fill(value) }

func (l *pwLocator) Hover() error { return l.loc.Hover() }

func (l *pwLocator) ScrollIntoViewIfNeeded() error { return l.loc.ScrollIntoViewIfNeeded() }

func (l *pwLocator) BoundingBox() (*Rect, error) {
	box, err := l.loc.BoundingBox()
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (l *pwLocator) Evaluate(expr string) (any, error) { return l.loc.Evaluate(expr, nil) }

func (l *pwLocator) Count() (int, error) { return l.loc.Count() }
