package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
)

// DeleteSession handles DELETE /sessions/:userId: tears down the user's
// entire persistent context, every tab group with it.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	ctx, cancel := context.WithTimeout(r.Context(), s.core.Config.HandlerTimeout)
	defer cancel()

	if err := s.core.Sessions.CloseSessionsForUser(ctx, userID); err != nil {
		writeError(w, apperr.Engine(err, "failed to close session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type importCookiesRequest struct {
	Cookies []engine.Cookie `json:"cookies"`
}

// ImportCookies handles POST /sessions/:userId/cookies: the session must
// already exist (a tab must have been opened first), matching cookies
// being context-scoped rather than something a bare session launch creates
// on its own.
func (s *Server) ImportCookies(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var req importCookiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, ok := s.core.Sessions.GetExistingSession(userID)
	if !ok {
		writeError(w, apperr.NotFound("session not found"))
		return
	}
	if err := sess.Context.AddCookies(req.Cookies); err != nil {
		writeError(w, apperr.Engine(err, "failed to import cookies"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ToggleDisplay handles POST /sessions/:userId/toggle-display: restarts the
// user's browser context with the opposite headless mode, per spec §4.4
// ("toggle display" flips the launch flag and relaunches rather than
// reconfiguring a live browser).
func (s *Server) ToggleDisplay(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	ctx, cancel := context.WithTimeout(r.Context(), s.core.Config.HandlerTimeout)
	defer cancel()

	current, _ := s.core.Pool.CurrentHeadless(userID)
	headless := "true"
	if current == "true" {
		headless = "false"
	}

	if _, err := s.core.Pool.RestartContext(ctx, userID, headless); err != nil {
		writeError(w, apperr.Engine(err, "failed to toggle display"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"headless": headless})
}
