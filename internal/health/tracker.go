// Package health implements the consecutive-failure health signal from spec
// §4.3: a simple counter that degrades the /health endpoint without
// attempting any automated recovery of a wedged browser.
package health

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker is the process-wide navigation health state.
type Tracker struct {
	mu                sync.Mutex
	consecutiveFails  int
	lastSuccessfulNav time.Time
	recovering        atomic.Bool
	activeOps         atomic.Int64

	failureThreshold int
	probeInterval    time.Duration
	stop             chan struct{}
	stopOnce         sync.Once
}

// NewTracker starts the periodic probe goroutine.
func NewTracker(failureThreshold int, probeInterval time.Duration) *Tracker {
	t := &Tracker{
		failureThreshold:  failureThreshold,
		probeInterval:     probeInterval,
		lastSuccessfulNav: time.Now(),
		stop:              make(chan struct{}),
	}
	go t.probeLoop()
	return t
}

// RecordNavSuccess resets the consecutive-failure counter and stamps the
// last successful navigation time.
func (t *Tracker) RecordNavSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFails = 0
	t.lastSuccessfulNav = time.Now()
}

// RecordNavFailure increments the consecutive-failure counter and reports
// whether it has now reached the configured threshold.
func (t *Tracker) RecordNavFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFails++
	return t.consecutiveFails >= t.failureThreshold
}

// BeginOp/EndOp bracket an in-flight browser operation so the probe loop can
// tell "idle and stuck" apart from "busy and slow."
func (t *Tracker) BeginOp() { t.activeOps.Add(1) }
func (t *Tracker) EndOp()   { t.activeOps.Add(-1) }

// SetRecovering toggles the shutdown-path flag; while set, /health answers
// 503 regardless of the failure counter.
func (t *Tracker) SetRecovering(v bool) { t.recovering.Store(v) }

// Snapshot returns a point-in-time read of the tracked state.
type Snapshot struct {
	ConsecutiveFailures int
	LastSuccessfulNav    time.Time
	Recovering           bool
	ActiveOps            int64
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ConsecutiveFailures: t.consecutiveFails,
		LastSuccessfulNav:   t.lastSuccessfulNav,
		Recovering:          t.recovering.Load(),
		ActiveOps:           t.activeOps.Load(),
	}
}

func (t *Tracker) probeLoop() {
	ticker := time.NewTicker(t.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.probe()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) probe() {
	snap := t.Snapshot()
	if snap.ActiveOps == 0 && time.Since(snap.LastSuccessfulNav) > 120*time.Second {
		log.Printf("⚠️  health probe: no successful navigation in %s with no active ops", time.Since(snap.LastSuccessfulNav).Round(time.Second))
	}
}

// Close stops the probe loop. Safe to call more than once.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
