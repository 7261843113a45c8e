package tablock

import (
	"sync"
	"testing"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLockTimeout = 200 * time.Millisecond

func TestWithTabLock_SerializesSameTab(t *testing.T) {
	l := New()
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, _ = l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestWithTabLock_PredecessorErrorDoesNotBlockNext(t *testing.T) {
	l := New()

	_, err := l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
		return nil, assertError{}
	})
	require.Error(t, err)

	ran := false
	_, err = l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithTabLock_IndependentTabsDoNotBlock(t *testing.T) {
	l := New()
	block := make(chan struct{})

	go func() {
		_, _ = l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
			<-block
			return nil, nil
		})
	}()

	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, _ = l.WithTabLock("tab-2", testLockTimeout, func() (any, error) {
			return nil, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("tab-2 must not be blocked by tab-1's in-flight op")
	}

	close(block)
}

func TestWithTabLock_HungPredecessorTimesOutInstead(t *testing.T) {
	l := New()
	block := make(chan struct{})
	defer close(block)

	go func() {
		_, _ = l.WithTabLock("tab-1", time.Hour, func() (any, error) {
			<-block
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
		t.Fatal("op must not run while the predecessor is still holding the lock")
		return nil, nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindTimeout, appErr.Kind)
	assert.Less(t, elapsed, time.Second)
}

func TestClearTabLock_RemovesResidueForClosedTab(t *testing.T) {
	l := New()
	block := make(chan struct{})

	go func() {
		_, _ = l.WithTabLock("tab-1", testLockTimeout, func() (any, error) {
			<-block
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	l.ClearTabLock("tab-1")

	l.mu.Lock()
	_, exists := l.slots["tab-1"]
	l.mu.Unlock()
	assert.False(t, exists)

	close(block)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
