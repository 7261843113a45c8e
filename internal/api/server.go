// Package api implements the HTTP surface from spec §6.1 on top of
// internal/core, using gorilla/mux the way the teacher's internal/api
// package does (subrouters, a wildcard CORS middleware, a rate-limited
// subrouter) — adapted from per-project-id session CRUD to the
// tabId/userId-addressed surface this spec describes.
package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/core"
	"github.com/redf0x1/camofox-browser/internal/proxy"
)

// Server holds the dependencies every handler needs.
type Server struct {
	core        *core.Core
	proxyServer *proxy.Server

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer creates an api.Server bound to core.
func NewServer(c *core.Core, proxyServer *proxy.Server) *Server {
	productionMode = c.Config.NodeEnv == "production"
	return &Server{core: c, proxyServer: proxyServer, stop: make(chan struct{})}
}

// StopRequested is closed once the admin stop endpoint has been called,
// signaling cmd/server/main.go to run the same graceful shutdown sequence
// it runs on SIGTERM/SIGINT.
func (s *Server) StopRequested() <-chan struct{} { return s.stop }

// requestStop closes the stop channel exactly once.
func (s *Server) requestStop() { s.stopOnce.Do(func() { close(s.stop) }) }

// SetupRoutes builds the full router. The evaluate-extended route carries
// its own per-route rate limit (spec §4.2/§6.1, default 20/min/user);
// every other route is unthrottled at the HTTP layer and instead bounded
// by the ConcurrencyLimiter once it resolves a tab.
func (s *Server) SetupRoutes() *mux.Router {
	root := mux.NewRouter()
	root.Use(corsMiddleware)

	cfg := s.core.Config

	tabs := root.PathPrefix("/tabs").Subrouter()
	tabs.HandleFunc("", s.CreateTab).Methods(http.MethodPost)
	tabs.HandleFunc("", s.ListTabs).Methods(http.MethodGet)
	tabs.HandleFunc("/group/{listItemId}", s.DeleteGroup).Methods(http.MethodDelete)
	tabs.HandleFunc("/{tabId}", s.DeleteTab).Methods(http.MethodDelete)
	tabs.HandleFunc("/{tabId}/navigate", s.Navigate).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/snapshot", s.Snapshot).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/click", s.Click).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/type", s.Type).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/press", s.Press).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/scroll", s.Scroll).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/scroll-element", s.ScrollElement).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/back", s.Back).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/forward", s.Forward).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/refresh", s.Refresh).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/wait", s.Wait).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/links", s.Links).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/screenshot", s.Screenshot).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/stats", s.Stats).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/cookies", s.TabCookies).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/downloads", s.TabDownloads).Methods(http.MethodGet)
	tabs.HandleFunc("/{tabId}/extract-resources", s.ExtractResources).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/batch-download", s.BatchDownload).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/resolve-blobs", s.ResolveBlobs).Methods(http.MethodPost)
	tabs.HandleFunc("/{tabId}/debug", s.DebugWebSocket)

	tabs.Handle("/{tabId}/evaluate", requireAPIKey(cfg.APIKey)(http.HandlerFunc(s.Evaluate))).Methods(http.MethodPost)

	evalExtHandler := requireAPIKey(cfg.APIKey)(http.HandlerFunc(s.EvaluateExtended))
	evalExtHandler = rateLimited(s.core.RateLimiter, "evaluate-extended", cfg.EvalExtendedRateMax, cfg.EvalExtendedRateWindow, peekUserID)(evalExtHandler)
	tabs.Handle("/{tabId}/evaluate-extended", evalExtHandler).Methods(http.MethodPost)

	sessions := root.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("/{userId}", s.DeleteSession).Methods(http.MethodDelete)
	sessions.Handle("/{userId}/cookies", requireAPIKey(cfg.APIKey)(http.HandlerFunc(s.ImportCookies))).Methods(http.MethodPost)
	sessions.HandleFunc("/{userId}/toggle-display", s.ToggleDisplay).Methods(http.MethodPost)

	root.HandleFunc("/users/{userId}/downloads", s.UserDownloads).Methods(http.MethodGet)
	root.HandleFunc("/downloads/{downloadId}", s.GetDownload).Methods(http.MethodGet)
	root.HandleFunc("/downloads/{downloadId}", s.DeleteDownload).Methods(http.MethodDelete)
	root.HandleFunc("/downloads/{downloadId}/content", s.DownloadContent).Methods(http.MethodGet)

	root.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	root.HandleFunc("/presets", s.Presets).Methods(http.MethodGet)
	root.HandleFunc("/metrics", s.Metrics).Methods(http.MethodGet)

	root.Handle("/admin/profiles/{userId}/export", requireAdminKey(cfg.AdminKey)(http.HandlerFunc(s.ExportProfile))).Methods(http.MethodPost)
	root.Handle("/admin/profiles/{userId}/import", requireAdminKey(cfg.AdminKey)(http.HandlerFunc(s.ImportProfile))).Methods(http.MethodPost)
	root.Handle("/admin/stop", requireAdminKey(cfg.AdminKey)(http.HandlerFunc(s.AdminStop))).Methods(http.MethodPost)

	return root
}
