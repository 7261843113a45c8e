package snapshot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redf0x1/camofox-browser/internal/engine"
)

const (
	hydrationMaxIterations = 40
	hydrationPollInterval  = 250 * time.Millisecond
	hydrationIdleWindow    = 400 * time.Millisecond
	consentVisibilityProbe = 100 * time.Millisecond
	consentClickTimeout    = 1 * time.Second
	shortNetworkIdleWait   = 2 * time.Second
)

// hydrationCheckScript reports whether the page looks settled: the document
// has finished loading and no resource has finished loading in the last
// hydrationIdleWindow, per spec §4.8. A page that keeps firing XHRs/fetches
// right up to the poll never looks "done" and the loop just runs out its
// budget, which is the intended behavior, not a bug to paper over.
var hydrationCheckScript = fmt.Sprintf(`(() => {
	if (document.readyState !== "complete") return false;
	const entries = performance.getEntriesByType("resource");
	if (entries.length === 0) return true;
	const last = entries[entries.length - 1];
	const finishedAt = last.responseEnd || last.startTime || 0;
	return (performance.now() - finishedAt) >= %d;
})()`, hydrationIdleWindow.Milliseconds())

const doubleRAFScript = `new Promise(resolve => requestAnimationFrame(() => requestAnimationFrame(() => resolve(true))))`

// consentSelectors are best-effort cookie/consent banner dismissal targets,
// tried in order before a snapshot is taken so refs aren't wasted on a
// banner that's about to disappear. This list must be reproduced faithfully
// per spec §9 — it is tuned against real consent implementations, not an
// arbitrary set of guesses, so don't trim or "simplify" it.
var consentSelectors = buildConsentSelectors()

func buildConsentSelectors() []string {
	sels := []string{
		`#onetrust-accept-btn-handler`,
		`#onetrust-reject-all-handler`,
		`#onetrust-close-btn-container button`,
	}
	for _, label := range []string{"Accept all", "Close", "Dismiss"} {
		sels = append(sels, fmt.Sprintf(`[aria-label="%s"]`, label))
	}
	for _, text := range []string{"Close", "Accept", "I Accept", "Got it", "OK"} {
		sels = append(sels, fmt.Sprintf(`dialog button:has-text("%s")`, text))
	}
	for _, hint := range []string{"consent", "privacy", "cookie", "modal", "overlay"} {
		for _, action := range []string{"Close", "Accept"} {
			sels = append(sels, fmt.Sprintf(`[class*=%s] button:has-text("%s")`, hint, action))
		}
	}
	return sels
}

// DismissConsent walks consentSelectors in order and clicks the first one
// that's both present and visible within consentVisibilityProbe, per spec
// §4.8. Every step is bounded: a selector that never resolves (hung
// Count()/Click() call) must not stall the snapshot pipeline, so both the
// visibility probe and the click itself race against a timer. Any failure
// at any stage is silently skipped and the next selector is tried — most
// pages have no banner at all, and a banner that resists dismissal is not
// worth failing the whole capture over.
func DismissConsent(ctx context.Context, page engine.Page) {
	for _, sel := range consentSelectors {
		if !consentSelectorVisible(page, sel) {
			continue
		}
		if !clickConsentSelector(page, sel) {
			continue
		}
		page.WaitForTimeout(200 * time.Millisecond)
		return
	}
}

func consentSelectorVisible(page engine.Page, sel string) bool {
	type result struct {
		count int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		count, err := page.Locator(sel).Count()
		done <- result{count, err}
	}()

	timer := time.NewTimer(consentVisibilityProbe)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.err == nil && r.count > 0
	case <-timer.C:
		return false
	}
}

func clickConsentSelector(page engine.Page, sel string) bool {
	done := make(chan error, 1)
	go func() {
		done <- page.Locator(sel).Click(false)
	}()

	timer := time.NewTimer(consentClickTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-timer.C:
		return false
	}
}

// EnsureReady runs the page-readiness sequence from spec §4.8: a
// dom-content-loaded wait, a short best-effort network-idle wait, a bounded
// hydration loop, then two animation frames. Every stage is tolerant of
// failure — a page that never settles still gets a snapshot taken of
// whatever state it's in, rather than no snapshot at all.
func EnsureReady(ctx context.Context, page engine.Page, timeout time.Duration) {
	if err := page.WaitForLoadState("domcontentloaded", timeout); err != nil {
		log.Printf("⚠️  dom-content-loaded wait failed, continuing: %v", err)
	}

	networkIdleWait := shortNetworkIdleWait
	if timeout < networkIdleWait {
		networkIdleWait = timeout
	}
	_ = page.WaitForLoadState("networkidle", networkIdleWait)

	runHydrationLoop(ctx, page)

	if _, err := page.Evaluate(ctx, doubleRAFScript); err != nil {
		log.Printf("⚠️  animation frame wait failed, continuing: %v", err)
	}
}

// runHydrationLoop polls hydrationCheckScript up to hydrationMaxIterations
// times, hydrationPollInterval apart, stopping early the first time the page
// reports itself settled. It never returns an error: running out the budget
// just means the page is still busy, and the snapshot proceeds anyway.
func runHydrationLoop(ctx context.Context, page engine.Page) {
	for i := 0; i < hydrationMaxIterations; i++ {
		ready, err := page.Evaluate(ctx, hydrationCheckScript)
		if err == nil {
			if settled, ok := ready.(bool); ok && settled {
				return
			}
		}
		page.WaitForTimeout(hydrationPollInterval)
	}
}

// Result is the full output of one Capture call: the annotated, windowed
// text ready to hand back to the caller, plus the ref table it was built
// from so subsequent actions can resolve refs against it.
type Result struct {
	Table    *RefTable
	Window   WindowResult
	RefCount int
}

// Options bundles the tunables Capture needs, all sourced from
// internal/config.
type Options struct {
	AriaTimeout time.Duration
	MaxChars    int
	TailChars   int
	Offset      int
}

// Capture runs the full pipeline from spec §4.8: wait for readiness,
// dismiss any consent banner, pull an aria snapshot with one retry after a
// waitForLoadState("load", 5s) — a banner dismissal or late-hydrating
// widget can make the first attempt come back empty. Per spec, a snapshot
// failure never throws: both attempts failing yields an empty RefTable
// rather than an error.
func Capture(ctx context.Context, page engine.Page, opts Options) (*Result, error) {
	EnsureReady(ctx, page, opts.AriaTimeout)
	DismissConsent(ctx, page)

	text, err := page.AriaSnapshot("body", opts.AriaTimeout)
	if err != nil || text == "" {
		if lerr := page.WaitForLoadState("load", 5*time.Second); lerr != nil {
			log.Printf("⚠️  load-state wait before snapshot retry failed, continuing: %v", lerr)
		}
		text, err = page.AriaSnapshot("body", opts.AriaTimeout)
		if err != nil {
			log.Printf("⚠️  aria snapshot failed twice, returning empty ref table: %v", err)
			built := Build("")
			win := Window(built.Annotated, opts.Offset, opts.MaxChars, opts.TailChars)
			return &Result{Table: built.Table, Window: win, RefCount: built.RefCount}, nil
		}
	}

	built := Build(text)
	win := Window(built.Annotated, opts.Offset, opts.MaxChars, opts.TailChars)

	return &Result{Table: built.Table, Window: win, RefCount: built.RefCount}, nil
}
