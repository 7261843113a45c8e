package snapshot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_ShortContentReturnedWhole(t *testing.T) {
	res := Window("hello world", 0, 1000, 100)
	assert.Equal(t, "hello world", res.Content)
	assert.False(t, res.Truncated)
	assert.False(t, res.HasMore)
	assert.Equal(t, 11, res.TotalChars)
}

func TestWindow_LongContentIncludesTail(t *testing.T) {
	content := strings.Repeat("a", 1000) + "TAIL_MARKER"
	res := Window(content, 0, 500, 50)

	require.True(t, res.Truncated)
	assert.Contains(t, res.Content, "TAIL_MARKER", "tail must always be present regardless of offset")
}

func TestWindow_AdvancingOffsetMovesHead(t *testing.T) {
	content := strings.Repeat("x", 500) + strings.Repeat("y", 500) + "END"
	first := Window(content, 0, 300, 20)
	require.True(t, first.HasMore)
	require.Greater(t, first.NextOffset, 0)

	second := Window(content, first.NextOffset, 300, 20)
	assert.NotEqual(t, first.Content, second.Content)
}

func TestWindow_OffsetClampedToValidRange(t *testing.T) {
	content := strings.Repeat("z", 100) + strings.Repeat("w", 100)
	res := Window(content, 1_000_000, 50, 10)
	assert.LessOrEqual(t, res.Offset, len(content))
	assert.GreaterOrEqual(t, res.Offset, 0)
}

func TestWindow_EventuallyReachesTailWithNoMore(t *testing.T) {
	content := strings.Repeat("a", 300) + "END"
	offset := 0
	for i := 0; i < 50; i++ {
		res := Window(content, offset, 100, 20)
		if !res.HasMore {
			assert.Contains(t, res.Content, "END")
			return
		}
		offset = res.NextOffset
	}
	t.Fatal("windowing never converged to HasMore=false")
}

func TestWindow_ContentBudgetFloorIsHundred(t *testing.T) {
	content := strings.Repeat("a", 10000)
	res := Window(content, 0, 250, 200)
	require.True(t, res.Truncated)
	assert.Contains(t, res.Content, "truncated at char")
}
