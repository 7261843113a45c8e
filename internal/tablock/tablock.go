// Package tablock implements the per-tab strict serialization lock from
// spec §4.7: a chain of one-shot futures per tabId, so mutating operations
// on the same tab always observe strictly serial effects.
package tablock

import (
	"sync"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

type slot struct {
	done chan struct{}
}

// Lock serializes operations per tabId.
type Lock struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New creates an empty Lock.
func New() *Lock {
	return &Lock{slots: make(map[string]*slot)}
}

// WithTabLock implements withTabLock(tabId, op) from spec §4.7:
//  1. chain after the currently-stored future for tabId (ignoring its error
//     — a failed predecessor must not block the next operation);
//  2. install our own future as the current slot;
//  3. wait for the predecessor to finish, bounded by lockTimeout — the
//     spec §4.1 tab-lock acquisition timeout. A predecessor that never
//     finishes must not block this caller past that wait; it keeps
//     running in the background and will release the slot whenever it
//     does finish, but only if nothing newer has since taken over;
//  4. once op finishes, clear the slot only if it is still ours, since a
//     newer op may have taken over while we waited or ran.
func (l *Lock) WithTabLock(tabID string, lockTimeout time.Duration, op func() (any, error)) (any, error) {
	l.mu.Lock()
	prev := l.slots[tabID]
	mine := &slot{done: make(chan struct{})}
	l.slots[tabID] = mine
	l.mu.Unlock()

	if prev != nil {
		timer := time.NewTimer(lockTimeout)
		select {
		case <-prev.done:
			timer.Stop()
		case <-timer.C:
			l.clear(tabID, mine)
			close(mine.done)
			return nil, apperr.Timeout("timed out waiting for tab lock")
		}
	}

	result, err := op()

	l.clear(tabID, mine)
	close(mine.done)
	return result, err
}

func (l *Lock) clear(tabID string, mine *slot) {
	l.mu.Lock()
	if l.slots[tabID] == mine {
		delete(l.slots, tabID)
	}
	l.mu.Unlock()
}

// ClearTabLock drops any stored future for a closed tab so no residue is
// left behind for a tabId that will never be used again.
func (l *Lock) ClearTabLock(tabID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.slots, tabID)
}
