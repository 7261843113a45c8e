package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/internal/enginetest"
	"github.com/redf0x1/camofox-browser/internal/session"
	"github.com/redf0x1/camofox-browser/internal/snapshot"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

func newTestTab(nodes []enginetest.Node) (*session.Tab, *enginetest.Page) {
	page := enginetest.NewPage("about:blank", nodes)
	return &session.Tab{
		ID:    "tab-1",
		Page:  page,
		Refs:  snapshot.NewRefTable(),
		State: models.TabCreated,
	}, page
}

func TestAssertNavigable_RejectsNonHTTPScheme(t *testing.T) {
	assert.Error(t, AssertNavigable("javascript:alert(1)"))
	assert.Error(t, AssertNavigable("file:///etc/passwd"))
	assert.NoError(t, AssertNavigable("https://example.com"))
	assert.NoError(t, AssertNavigable("http://example.com"))
}

func TestNavigate_ClearsRefsAndRecordsVisitedURL(t *testing.T) {
	tab, _ := newTestTab(nil)
	tab.Refs = snapshot.Build(`- button "Go"`).Table
	require.Equal(t, 1, tab.Refs.Len())
	err := Navigate(context.Background(), tab, "https://example.com/page", time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.TabLoaded, tab.State)
	assert.Equal(t, 0, tab.Refs.Len())
	assert.Contains(t, tab.VisitedURLs, "https://example.com/page")
}

func TestNavigate_RejectsBadScheme_NoSideEffect(t *testing.T) {
	tab, _ := newTestTab(nil)
	err := Navigate(context.Background(), tab, "ftp://example.com", time.Second)
	require.Error(t, err)
	assert.Empty(t, tab.VisitedURLs)
}

func TestClick_ResolvesRefAndTransitionsState(t *testing.T) {
	tab, _ := newTestTab([]enginetest.Node{{Role: "button", Name: "Submit"}})
	built := snapshot.Build(`- button "Submit" [e1]`)
	tab.Refs = built.Table

	err := Click("e1", tab)
	require.NoError(t, err)
	assert.Equal(t, models.TabLoaded, tab.State)
}

func TestClick_UnknownRefFails(t *testing.T) {
	tab, _ := newTestTab(nil)
	err := Click("e99", tab)
	assert.Error(t, err)
}

func TestType_FillsAndOptionallyPressesEnter(t *testing.T) {
	tab, _ := newTestTab([]enginetest.Node{{Role: "textbox", Name: "Search"}})
	built := snapshot.Build(`- textbox "Search" [e1]`)
	tab.Refs = built.Table

	err := Type("e1", "hello", true, true, tab)
	require.NoError(t, err)
	assert.Equal(t, models.TabLoaded, tab.State)
}

func TestEvaluate_TimesOutWhenSlowerThanDeadline(t *testing.T) {
	tab, page := newTestTab(nil)
	page.SetEvaluate(func(string) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "too slow", nil
	})

	outcome, err := Evaluate(tab, "whatever()", 20*time.Millisecond, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, "timeout", outcome.ErrorType)
}

func TestEvaluate_RejectsOversizedExpression(t *testing.T) {
	tab, _ := newTestTab(nil)
	huge := make([]byte, maxEvaluateExpressionBytes+1)
	_, err := Evaluate(tab, string(huge), time.Second, 30*time.Second)
	assert.Error(t, err)
}

func TestEvaluate_SerializesSuccessResult(t *testing.T) {
	tab, page := newTestTab(nil)
	page.SetEvaluate(func(string) (any, error) { return map[string]any{"a": 1.0}, nil })

	outcome, err := Evaluate(tab, "({a:1})", time.Second, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Equal(t, "object", outcome.ResultType)
}

func TestScrollElement_WithoutPositionArgsReturnsMetrics(t *testing.T) {
	tab, _ := newTestTab([]enginetest.Node{{Role: "button", Name: "Panel"}})
	built := snapshot.Build(`- button "Panel" [e1]`)
	tab.Refs = built.Table

	metrics, err := ScrollElement("e1", nil, nil, nil, nil, tab)
	require.NoError(t, err)
	require.NotNil(t, metrics)
}
