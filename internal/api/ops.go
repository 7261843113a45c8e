package api

import (
	"fmt"
	"net/http"

	"github.com/redf0x1/camofox-browser/pkg/models"
)

// Health handles GET /health with the response shape from spec §6.1:
// {ok, running, engine, browserConnected, consecutiveFailures, activeOps,
// poolSize, activeUserIds, profileDirsTotal}. While the process is
// shutting down it answers 503 with {ok:false, recovering:true}.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	snap := s.core.Health.Snapshot()
	activeUserIDs := s.core.Pool.ActiveUserIDs()

	if snap.Recovering {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":         false,
			"recovering": true,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                  true,
		"running":             true,
		"engine":              "playwright",
		"browserConnected":    s.core.Pool.Size() > 0,
		"consecutiveFailures": snap.ConsecutiveFailures,
		"activeOps":           snap.ActiveOps,
		"poolSize":            s.core.Pool.Size(),
		"activeUserIds":       activeUserIDs,
		"profileDirsTotal":    len(activeUserIDs),
	})
}

// preset is a named, canned set of seed options a caller can request by
// name instead of spelling out locale/timezone/viewport by hand. Preset
// *files* are out of scope; this is a small built-in catalog.
type preset struct {
	Name string             `json:"name"`
	Seed models.SeedOptions `json:"seed"`
}

var builtinPresets = []preset{
	{Name: "default", Seed: models.SeedOptions{Locale: "en-US", Viewport: &models.Size{Width: 1280, Height: 800}}},
	{Name: "desktop-wide", Seed: models.SeedOptions{Locale: "en-US", Viewport: &models.Size{Width: 1920, Height: 1080}}},
	{Name: "mobile", Seed: models.SeedOptions{Locale: "en-US", Viewport: &models.Size{Width: 390, Height: 844}}},
	{Name: "tablet", Seed: models.SeedOptions{Locale: "en-US", Viewport: &models.Size{Width: 834, Height: 1194}}},
}

// Presets handles GET /presets: a static catalog of named seed options.
func (s *Server) Presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, builtinPresets)
}

// Metrics handles GET /metrics: a plain-text pool/queue/health gauge dump,
// in the style of a hand-rolled exposition format rather than a full
// Prometheus client registry, since the spec scopes this to a lightweight
// operational surface rather than a metrics subsystem.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	snap := s.core.Health.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "camofox_pool_size %d\n", s.core.Pool.Size())
	fmt.Fprintf(w, "camofox_active_ops %d\n", snap.ActiveOps)
	fmt.Fprintf(w, "camofox_consecutive_nav_failures %d\n", snap.ConsecutiveFailures)
	recovering := 0
	if snap.Recovering {
		recovering = 1
	}
	fmt.Fprintf(w, "camofox_recovering %d\n", recovering)
	fmt.Fprintf(w, "camofox_active_user_ids %d\n", len(s.core.Pool.ActiveUserIDs()))
}
