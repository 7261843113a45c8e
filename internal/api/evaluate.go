package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/actions"
	"github.com/redf0x1/camofox-browser/internal/session"
)

type evaluateRequest struct {
	UserID     string `json:"userId"`
	Expression string `json:"expression"`
	TimeoutMs  int    `json:"timeoutMs,omitempty"`
}

const defaultEvaluateTimeout = 5 * time.Second

// Evaluate handles POST /tabs/:tabId/evaluate: bounded to 30s per spec §6.1.
func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	s.evaluateImpl(w, r, 30*time.Second)
}

// EvaluateExtended handles POST /tabs/:tabId/evaluate-extended: bounded to
// 300s, gated by its own per-user rate limit at the routing layer.
func (s *Server) EvaluateExtended(w http.ResponseWriter, r *http.Request) {
	s.evaluateImpl(w, r, 300*time.Second)
}

func (s *Server) evaluateImpl(w http.ResponseWriter, r *http.Request, maxTimeout time.Duration) {
	tabID := mux.Vars(r)["tabId"]
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	timeout := defaultEvaluateTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		return actions.Evaluate(tab, req.Expression, timeout, maxTimeout)
	})
}
