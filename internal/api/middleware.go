package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/ratelimit"
)

// corsMiddleware mirrors the teacher's wildcard CORS policy: this control
// plane is meant to be driven by arbitrary agent backends, not browser
// pages, so a permissive origin policy matches the teacher's own choice
// rather than inventing an allowlist the spec never asks for.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-admin-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey implements the auth contract from spec §6.1/§7: when an API
// key is configured, script-evaluation and cookie-import endpoints require
// a bearer token compared in constant time; otherwise the route is left
// open (a startup warning was already logged by internal/config).
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				writeError(w, apperr.Auth("missing or malformed Authorization header"))
				return
			}
			token := header[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeError(w, apperr.Auth("invalid API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdminKey guards the admin-only stop, profile-export and
// profile-import endpoints.
func requireAdminKey(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				writeError(w, apperr.Auth("admin endpoints are disabled: no admin key configured"))
				return
			}
			got := r.Header.Get("x-admin-key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				writeError(w, apperr.Auth("invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimited wraps a handler with a per-user fixed-window check against
// limiter, keyed by routeKey+userId so distinct routes (e.g.
// evaluate-extended) get independent quotas.
func rateLimited(limiter *ratelimit.Limiter, routeKey string, max int, window time.Duration, userIDOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDOf(r)
			result := limiter.Check(routeKey+":"+userID, max, window)
			if !result.Allowed {
				writeError(w, apperr.RateLimited(result.RetryAfter, "rate limit exceeded, retry after %s", result.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
