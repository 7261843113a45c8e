package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/internal/enginetest"
)

func TestEnsureReady_HydrationLoopStopsOnceSettled(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	calls := 0
	page.SetEvaluate(func(expr string) (any, error) {
		calls++
		if calls < 3 {
			return false, nil
		}
		return true, nil
	})

	start := time.Now()
	EnsureReady(context.Background(), page, 5*time.Second)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, calls, 3, "hydration loop should poll until settled")
	assert.Less(t, elapsed, hydrationMaxIterations*hydrationPollInterval, "should stop well before exhausting its budget")
}

func TestEnsureReady_HydrationLoopExhaustsBudgetWhenNeverSettled(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	hydrationCalls := 0
	page.SetEvaluate(func(expr string) (any, error) {
		if expr == hydrationCheckScript {
			hydrationCalls++
			return false, nil
		}
		return nil, nil
	})

	EnsureReady(context.Background(), page, 1*time.Second)

	assert.Equal(t, hydrationMaxIterations, hydrationCalls, "a page that never settles should be polled exactly the max number of times")
}

func TestDismissConsent_ClicksFirstVisibleSelector(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	// fakeLocator.Count() always reports at least one match, so the very
	// first selector in the list should be treated as visible and clicked.
	require.NotPanics(t, func() {
		DismissConsent(context.Background(), page)
	})
}

func TestCapture_NeverThrowsWhenAriaSnapshotFailsTwice(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	attempts := 0
	page.SetAriaSnapshot(func() (string, error) {
		attempts++
		return "", assert.AnError
	})

	result, err := Capture(context.Background(), page, Options{
		AriaTimeout: time.Second,
		MaxChars:    80_000,
		TailChars:   5_000,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.RefCount)
	assert.Equal(t, 2, attempts, "should retry exactly once after the first failure")
}

func TestBuildConsentSelectors_CoversEveryDocumentedCategory(t *testing.T) {
	sels := buildConsentSelectors()

	assert.Contains(t, sels, `#onetrust-accept-btn-handler`)
	assert.Contains(t, sels, `#onetrust-reject-all-handler`)
	assert.Contains(t, sels, `[aria-label="Accept all"]`)
	assert.Contains(t, sels, `[aria-label="Close"]`)
	assert.Contains(t, sels, `[aria-label="Dismiss"]`)
	assert.Contains(t, sels, `dialog button:has-text("I Accept")`)
	assert.Contains(t, sels, `dialog button:has-text("Got it")`)
	assert.Contains(t, sels, `[class*=cookie] button:has-text("Accept")`)
	assert.Contains(t, sels, `[class*=overlay] button:has-text("Close")`)
}
