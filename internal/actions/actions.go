// Package actions implements the mutating tab operations from spec §4.8
// ("Action semantics") and the CREATED→LOADED→READY→ACTING→CLOSED state
// machine from spec §4.9. Every exported function is expected to run
// already inside the caller's TabLock; this package owns only the engine
// calls and the ref/state bookkeeping around them, not serialization.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/internal/session"
	"github.com/redf0x1/camofox-browser/internal/snapshot"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

// AssertNavigable implements the URL safety check from spec §4.8: reject
// any scheme other than http/https before touching the page.
func AssertNavigable(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperr.Validation("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Validation("refusing to navigate to non-http(s) URL scheme %q", u.Scheme)
	}
	return nil
}

// Navigate implements goto: validates the URL, runs it, marks the tab
// LOADED, clears refs (spec §4.9 "navigation invalidates refs atomically"),
// and records the resulting URL as visited.
func Navigate(ctx context.Context, tab *session.Tab, rawURL string, timeout time.Duration) error {
	if err := AssertNavigable(rawURL); err != nil {
		return err
	}

	tab.State = models.TabActing
	if err := tab.Page.Goto(ctx, rawURL, engine.GotoOptions{WaitUntil: "domcontentloaded", Timeout: timeout}); err != nil {
		return apperr.Engine(err, "navigation failed")
	}

	tab.Refs.Clear()
	tab.LastSnapshot = nil
	tab.State = models.TabLoaded
	tab.VisitedURLs = append(tab.VisitedURLs, tab.Page.URL())
	return nil
}

// Snapshot runs the full Snapshot→Refs pipeline, stores the fresh ref
// table on the tab, and transitions it to READY.
func Snapshot(ctx context.Context, tab *session.Tab, opts snapshot.Options) (*snapshot.Result, error) {
	result, err := snapshot.Capture(ctx, tab.Page, opts)
	if err != nil {
		return nil, apperr.Engine(err, "snapshot failed")
	}
	tab.Refs = result.Table
	tab.State = models.TabReady
	content := result.Window.Content
	tab.LastSnapshot = &content
	return result, nil
}

// Click implements the three-stage escalation from spec §4.8: normal
// click, then force:true if the error mentions pointer-event interception,
// then a synthetic mouse sequence as a last resort.
func Click(ref string, tab *session.Tab) error {
	loc, err := snapshot.ResolveRef(tab.Page, tab.Refs, ref)
	if err != nil {
		return err
	}

	tab.State = models.TabActing

	if err := loc.Click(false); err == nil {
		return rebuildAfterClick(tab)
	} else if !mentionsPointerInterception(err) {
		return apperr.Engine(err, "click failed")
	}

	if err := loc.Click(true); err == nil {
		return rebuildAfterClick(tab)
	}

	box, err := loc.BoundingBox()
	if err != nil || box == nil {
		return apperr.Engine(err, "click failed: element has no bounding box for synthetic fallback")
	}

	mouse := tab.Page.Mouse()
	cx, cy := box.X+box.Width/2, box.Y+box.Height/2
	if err := mouse.Move(cx, cy); err != nil {
		return apperr.Engine(err, "synthetic click failed")
	}
	tab.Page.WaitForTimeout(50 * time.Millisecond)
	if err := mouse.Down(); err != nil {
		return apperr.Engine(err, "synthetic click failed")
	}
	tab.Page.WaitForTimeout(50 * time.Millisecond)
	if err := mouse.Up(); err != nil {
		return apperr.Engine(err, "synthetic click failed")
	}
	return rebuildAfterClick(tab)
}

func mentionsPointerInterception(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "intercepts pointer events")
}

func rebuildAfterClick(tab *session.Tab) error {
	tab.VisitedURLs = append(tab.VisitedURLs, tab.Page.URL())
	tab.State = models.TabLoaded
	return nil
}

// Type implements typing: optionally clears the field, fills the value,
// and optionally presses Enter as a separate keyboard step afterward.
func Type(ref, value string, clearFirst, pressEnter bool, tab *session.Tab) error {
	loc, err := snapshot.ResolveRef(tab.Page, tab.Refs, ref)
	if err != nil {
		return err
	}
	tab.State = models.TabActing

	if clearFirst {
		if err := loc.Fill(""); err != nil {
			return apperr.Engine(err, "failed to clear field")
		}
	}
	if err := loc.Fill(value); err != nil {
		return apperr.Engine(err, "fill failed")
	}
	if pressEnter {
		if err := tab.Page.Keyboard().Press("Enter"); err != nil {
			return apperr.Engine(err, "enter key press failed")
		}
	}
	tab.State = models.TabLoaded
	return nil
}

// Press sends one keyboard key, e.g. "Tab", "Escape", "ArrowDown".
func Press(key string, tab *session.Tab) error {
	tab.State = models.TabActing
	if err := tab.Page.Keyboard().Press(key); err != nil {
		return apperr.Engine(err, "key press failed")
	}
	tab.State = models.TabLoaded
	return nil
}

// ScrollMetrics is the six-value readout returned by scroll/scroll-element.
type ScrollMetrics = engine.ScrollMetrics

// ScrollElement implements scroll-element from spec §4.8: either an
// absolute scrollTo{top,left} or a relative deltaX/deltaY (default
// deltaY=300), returning the element's scroll metrics afterward. The ref
// "body" addresses the page's body element, which page-level scroll uses.
func ScrollElement(ref string, top, left *float64, deltaX, deltaY *float64, tab *session.Tab) (*ScrollMetrics, error) {
	var loc engine.Locator
	if ref == "body" {
		loc = tab.Page.Locator("body")
	} else {
		resolved, err := snapshot.ResolveRef(tab.Page, tab.Refs, ref)
		if err != nil {
			return nil, err
		}
		loc = resolved
	}
	tab.State = models.TabActing

	var script string
	if top != nil || left != nil {
		t, l := valueOr(top, 0), valueOr(left, 0)
		script = fmt.Sprintf("el => { el.scrollTo(%f, %f); }", l, t)
	} else {
		dx := valueOr(deltaX, 0)
		dy := valueOr(deltaY, 300)
		script = fmt.Sprintf("el => { el.scrollBy(%f, %f); }", dx, dy)
	}
	if _, err := loc.Evaluate(script); err != nil {
		return nil, apperr.Engine(err, "scroll failed")
	}

	metricsScript := `el => ({
		scrollTop: el.scrollTop, scrollLeft: el.scrollLeft,
		scrollHeight: el.scrollHeight, scrollWidth: el.scrollWidth,
		clientHeight: el.clientHeight, clientWidth: el.clientWidth
	})`
	raw, err := loc.Evaluate(metricsScript)
	if err != nil {
		return nil, apperr.Engine(err, "failed to read scroll metrics")
	}
	tab.State = models.TabLoaded
	return parseScrollMetrics(raw)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func parseScrollMetrics(raw any) (*ScrollMetrics, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Engine(nil, "unexpected scroll metrics shape")
	}
	get := func(key string) float64 {
		if v, ok := m[key].(float64); ok {
			return v
		}
		return 0
	}
	return &ScrollMetrics{
		ScrollTop:    get("scrollTop"),
		ScrollLeft:   get("scrollLeft"),
		ScrollHeight: get("scrollHeight"),
		ScrollWidth:  get("scrollWidth"),
		ClientHeight: get("clientHeight"),
		ClientWidth:  get("clientWidth"),
	}, nil
}

// Back/Forward/Refresh implement history navigation. Like a fresh
// navigation they clear the ref table and last snapshot and record the
// resulting URL as visited; they do not rebuild refs.
func Back(tab *session.Tab) error    { return historyNav(tab, tab.Page.GoBack) }
func Forward(tab *session.Tab) error { return historyNav(tab, tab.Page.GoForward) }
func Refresh(tab *session.Tab) error { return historyNav(tab, tab.Page.Reload) }

func historyNav(tab *session.Tab, op func() error) error {
	tab.State = models.TabActing
	if err := op(); err != nil {
		return apperr.Engine(err, "history navigation failed")
	}
	tab.Refs.Clear()
	tab.LastSnapshot = nil
	tab.VisitedURLs = append(tab.VisitedURLs, tab.Page.URL())
	tab.State = models.TabLoaded
	return nil
}

// EvaluateOutcome is the JSON-serializable outcome shape from spec §4.8.
type EvaluateOutcome struct {
	OK         bool   `json:"ok"`
	Result     any    `json:"result,omitempty"`
	ResultType string `json:"resultType,omitempty"`
	ErrorType  string `json:"errorType,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

const maxEvaluateExpressionBytes = 64 * 1024
const maxEvaluateResultBytes = 1024 * 1024

// Evaluate implements the shared /evaluate and /evaluate-extended
// implementation from spec §4.8: expression size cap, timeout clamp,
// race against a timer, and the JSON serialization/truncation rules.
func Evaluate(tab *session.Tab, expression string, timeout, maxTimeout time.Duration) (*EvaluateOutcome, error) {
	if len(expression) > maxEvaluateExpressionBytes {
		return nil, apperr.Validation("expression exceeds 64KB limit")
	}

	if timeout < 100*time.Millisecond {
		timeout = 100 * time.Millisecond
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	type outcome struct {
		value any
		err   error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := tab.Page.Evaluate(context.Background(), expression)
		resultCh <- outcome{value: v, err: err}
	}()

	select {
	case <-time.After(timeout):
		return &EvaluateOutcome{OK: false, ErrorType: "timeout"}, nil
	case res := <-resultCh:
		if res.err != nil {
			return &EvaluateOutcome{OK: false, ErrorType: "js_error"}, nil
		}
		return serializeEvaluateResult(res.value), nil
	}
}

func serializeEvaluateResult(value any) *EvaluateOutcome {
	if value == nil {
		return &EvaluateOutcome{OK: true, Result: nil, ResultType: "null"}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &EvaluateOutcome{OK: true, Result: value, ResultType: fmt.Sprintf("%T", value)}
	}

	if len(data) > maxEvaluateResultBytes {
		return &EvaluateOutcome{OK: true, Result: "[result truncated: exceeds 1MB]", Truncated: true, ResultType: resultTypeOf(value)}
	}

	return &EvaluateOutcome{OK: true, Result: value, ResultType: resultTypeOf(value)}
}

func resultTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "object"
	}
}
