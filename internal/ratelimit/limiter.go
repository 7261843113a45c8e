// Package ratelimit implements the per-user fixed-window counter from spec
// §4.2. It replaces the teacher's token-bucket golang.org/x/time/rate
// limiter: a fixed window with an exact resetAt is required to give callers
// a deterministic retryAfterMs, which a token bucket cannot express (see
// DESIGN.md for the full justification of dropping x/time/rate).
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a Check call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter tracks one fixed-window counter bucket per key (userId, or a
// userId+route composite for per-route quotas like evaluate-extended).
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	stop    chan struct{}
	once    sync.Once
}

// NewLimiter creates a Limiter and starts its 60s background sweep.
func NewLimiter() *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Check implements check(key, max, windowMs) from spec §4.2: on first
// request, or once the window has elapsed, a fresh window opens; otherwise
// the counter increments until max, after which the call is denied with the
// time remaining in the window.
func (l *Limiter) Check(key string, max int, window time.Duration) Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !e.resetAt.After(now) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(window)}
		return Result{Allowed: true, Count: 1}
	}

	if e.count < max {
		e.count++
		return Result{Allowed: true, Count: e.count}
	}

	return Result{
		Allowed:    false,
		RetryAfter: e.resetAt.Sub(now),
		Count:      e.count,
	}
}

// Remaining reports the allowance left in the current window, for
// diagnostic response headers.
func (l *Limiter) Remaining(key string, max int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || !e.resetAt.After(time.Now()) {
		return max
	}
	if max-e.count < 0 {
		return 0
	}
	return max - e.count
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if !e.resetAt.After(now) {
			delete(l.entries, k)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
