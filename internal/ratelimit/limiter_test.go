package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllowsUpToMaxThenDenies(t *testing.T) {
	l := NewLimiter()
	defer l.Close()

	window := 100 * time.Millisecond
	for i := 1; i <= 3; i++ {
		res := l.Check("user-1", 3, window)
		require.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, res.Count)
	}

	res := l.Check("user-1", 3, window)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, window)
}

func TestCheck_WindowResets(t *testing.T) {
	l := NewLimiter()
	defer l.Close()

	window := 20 * time.Millisecond
	for i := 0; i < 2; i++ {
		res := l.Check("user-2", 2, window)
		require.True(t, res.Allowed)
	}
	res := l.Check("user-2", 2, window)
	require.False(t, res.Allowed)

	time.Sleep(window + 10*time.Millisecond)

	res = l.Check("user-2", 2, window)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
}

func TestCheck_IndependentKeys(t *testing.T) {
	l := NewLimiter()
	defer l.Close()

	window := time.Second
	require.True(t, l.Check("a", 1, window).Allowed)
	require.False(t, l.Check("a", 1, window).Allowed)
	require.True(t, l.Check("b", 1, window).Allowed)
}

func TestRemaining(t *testing.T) {
	l := NewLimiter()
	defer l.Close()

	window := time.Second
	assert.Equal(t, 5, l.Remaining("fresh", 5))
	l.Check("fresh", 5, window)
	assert.Equal(t, 4, l.Remaining("fresh", 5))
}
