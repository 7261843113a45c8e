package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

// productionMode gates how much detail an EngineError response leaks, per
// spec §7 ("nodeEnv == 'production' hides details, else echoes"). It is
// set once by NewServer before the HTTP server starts accepting requests,
// the same "resolved once at startup" shape as internal/config.Config
// itself, so no synchronization is needed for the reads that follow.
var productionMode bool

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps an apperr.Kind to its HTTP status and a uniform
// {error: string} body, per spec §6.1 ("Errors are always application/json
// with {error: string}").
func writeError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if e.Kind == apperr.KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())+1))
	}
	message := e.Error()
	if e.Kind == apperr.KindEngine && productionMode {
		message = "internal error"
	}
	writeJSON(w, e.StatusCode(), map[string]string{"error": message})
}
