// Package concurrency implements the per-user ConcurrencyLimiter from spec
// §4.6: a bounded number of in-flight operations per user, with a FIFO wait
// queue and a hard wait deadline.
package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

const waitDeadline = 30 * time.Second

type bucket struct {
	active int
	queue  []chan struct{}
}

// Limiter bounds the number of concurrently-running operations per user.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
}

// New creates a Limiter with the given per-user maximum concurrency.
func New(maxConcurrentPerUser int) *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), max: maxConcurrentPerUser}
}

// WithUserLimit implements withUserLimit(userId, max, op) from spec §4.6:
// run op immediately if under the user's limit, else queue FIFO behind a
// 30 s hard deadline. Exactly one of {run, timeout, ctx cancellation} wins
// the wait; on every exit path the bucket's active count and queue are
// kept consistent, and an empty bucket is deleted.
func (l *Limiter) WithUserLimit(ctx context.Context, userID string, op func(context.Context) (any, error)) (any, error) {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{}
		l.buckets[userID] = b
	}

	if b.active < l.max {
		b.active++
		l.mu.Unlock()
		return l.run(ctx, userID, op)
	}

	ch := make(chan struct{})
	b.queue = append(b.queue, ch)
	l.mu.Unlock()

	timer := time.NewTimer(waitDeadline)
	defer timer.Stop()

	select {
	case <-ch:
		return l.run(ctx, userID, op)
	case <-timer.C:
		if !l.removeWaiter(userID, ch) {
			// release() already spliced us out and granted us the slot
			// between the timer firing and this goroutine running; give it
			// back rather than leaking a phantom unit of active.
			l.release(userID)
		}
		return nil, apperr.Busy("too many concurrent operations for this user, try again shortly")
	case <-ctx.Done():
		if !l.removeWaiter(userID, ch) {
			l.release(userID)
		}
		return nil, ctx.Err()
	}
}

func (l *Limiter) run(ctx context.Context, userID string, op func(context.Context) (any, error)) (any, error) {
	result, err := op(ctx)
	l.release(userID)
	return result, err
}

// release decrements active, wakes the oldest waiter if any, and deletes
// the bucket once it is fully idle.
func (l *Limiter) release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[userID]
	if !ok {
		return
	}
	b.active--
	if len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.active++ // the woken waiter inherits the freed slot
		close(next)
		return
	}
	if b.active <= 0 {
		delete(l.buckets, userID)
	}
}

// removeWaiter splices a timed-out or canceled waiter out of the queue so
// it is never woken after the fact. It reports whether the waiter was
// still queued: if false, release() already popped it and handed it the
// freed slot in the same instant the deadline/cancellation fired, and the
// caller must release() that slot back itself.
func (l *Limiter) removeWaiter(userID string, ch chan struct{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[userID]
	if !ok {
		return false
	}
	found := false
	for i, c := range b.queue {
		if c == ch {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			found = true
			break
		}
	}
	if b.active <= 0 && len(b.queue) == 0 {
		delete(l.buckets, userID)
	}
	return found
}

// ActiveCount reports the current in-flight count for a user, for tests
// and diagnostics.
func (l *Limiter) ActiveCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[userID]; ok {
		return b.active
	}
	return 0
}
