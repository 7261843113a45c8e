package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUserLimit_RunsImmediatelyUnderLimit(t *testing.T) {
	l := New(2)
	ran := false
	_, err := l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
		ran = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, l.ActiveCount("u1"), "bucket is cleaned up once idle")
}

func TestWithUserLimit_BoundsConcurrentExecutionAtMax(t *testing.T) {
	l := New(2)
	const max = 2
	var mu sync.Mutex
	current, peak := 0, 0
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				<-release

				mu.Lock()
				current--
				mu.Unlock()
				return nil, nil
			})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, max)
}

func TestWithUserLimit_QueuedCallerEventuallyRuns(t *testing.T) {
	l := New(1)
	first := make(chan struct{})
	unblock := make(chan struct{})

	go func() {
		_, _ = l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
			close(first)
			<-unblock
			return nil, nil
		})
	}()

	<-first

	done := make(chan struct{})
	go func() {
		_, err := l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
			return "second", nil
		})
		assert.NoError(t, err)
		close(done)
	}()

	close(unblock)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued caller never ran after the slot freed")
	}
}

func TestWithUserLimit_ContextCancellationRemovesWaiter(t *testing.T) {
	l := New(1)
	blocking := make(chan struct{})
	unblock := make(chan struct{})

	go func() {
		_, _ = l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
			close(blocking)
			<-unblock
			return nil, nil
		})
	}()
	<-blocking

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := l.WithUserLimit(ctx, "u1", func(context.Context) (any, error) {
		t.Fatal("op must not run once its context was canceled while queued")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(unblock)
}

func TestRemoveWaiter_ReportsFalseOnceReleaseAlreadyGrantedTheSlot(t *testing.T) {
	l := New(1)
	b := &bucket{active: 1}
	l.buckets["u1"] = b

	ch := make(chan struct{})
	b.queue = append(b.queue, ch)

	// release() pops ch, hands it the slot (active stays 1), and closes it —
	// the same sequence that can race a waiter's ctx.Done()/timer firing at
	// nearly the same instant.
	l.release("u1")
	assert.Equal(t, 1, l.ActiveCount("u1"), "the woken waiter now owns the slot")

	found := l.removeWaiter("u1", ch)
	assert.False(t, found, "release() already spliced this waiter out")

	// The caller must give the phantom slot back itself when removeWaiter
	// reports it found nothing, exactly as WithUserLimit's ctx.Done()/timer
	// branches now do.
	l.release("u1")
	assert.Equal(t, 0, l.ActiveCount("u1"), "the slot must not leak once given back")
}

func TestWithUserLimit_IndependentPerUser(t *testing.T) {
	l := New(1)
	block := make(chan struct{})

	go func() {
		_, _ = l.WithUserLimit(context.Background(), "u1", func(context.Context) (any, error) {
			<-block
			return nil, nil
		})
	}()

	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, err := l.WithUserLimit(context.Background(), "u2", func(context.Context) (any, error) {
			return nil, nil
		})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("a different user must not be blocked by u1's in-flight op")
	}

	close(block)
}
