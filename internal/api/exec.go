package api

import (
	"context"
	"net/http"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/session"
)

// tabOp is a bounded-deadline operation against a resolved tab, matching
// step (e) of the control flow in spec §2.
type tabOp func(ctx context.Context, tab *session.Tab) (any, error)

type opOutcome struct {
	result any
	err    error
}

// runTabOp implements the full per-request control flow from spec §2 for
// any tabId-addressed mutating or reading operation: resolve the tab
// (ownership-checked), enter the user's ConcurrencyLimiter, acquire the
// TabLock, then run op. The whole chain runs in its own goroutine, raced
// against the handler timeout — if the deadline fires first, whatever
// result the chain eventually produces is discarded and the request fails
// with a timeout error. TabLock's own "only if still ours" slot cleanup
// is what keeps state consistent on that abandoned-but-still-running path.
func (s *Server) runTabOp(w http.ResponseWriter, r *http.Request, tabID, userID string, op tabOp) {
	tab, ok := s.core.Sessions.FindTabByID(tabID, userID)
	if !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.core.Config.HandlerTimeout)
	defer cancel()

	outcomeCh := make(chan opOutcome, 1)
	go func() {
		result, err := s.core.Concurrency.WithUserLimit(ctx, userID, func(ctx context.Context) (any, error) {
			return s.core.TabLock.WithTabLock(tabID, s.core.Config.TabLockTimeout, func() (any, error) {
				tab.ToolCallCount++
				return op(ctx, tab)
			})
		})
		outcomeCh <- opOutcome{result: result, err: err}
	}()

	select {
	case out := <-outcomeCh:
		if out.err != nil {
			if ctx.Err() != nil {
				writeError(w, apperr.Timeout("request timed out"))
				return
			}
			writeError(w, out.err)
			return
		}
		writeJSON(w, http.StatusOK, out.result)
	case <-ctx.Done():
		writeError(w, apperr.Timeout("request timed out"))
	}
}
