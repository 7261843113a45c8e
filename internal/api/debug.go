package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// DebugWebSocket handles GET /tabs/:tabId/debug?userId=, delegating to the
// CDP passthrough proxy after confirming the tab exists and is owned by
// the caller.
func (s *Server) DebugWebSocket(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	s.proxyServer.HandleDebugConnection(w, r, tabID, userID)
}
