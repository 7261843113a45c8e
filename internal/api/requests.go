package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

// decodeJSON decodes the request body into v, surfacing a validation error
// on malformed JSON rather than a raw decode error.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Validation("request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// queryUserID reads userId from the query string only; peekUserID below
// adds the JSON-body fallback.
func queryUserID(r *http.Request) string {
	return r.URL.Query().Get("userId")
}

// peekUserID extracts userId from the query string or, failing that, from
// a JSON body, restoring the body afterward so the real handler can still
// decode it. Used by middleware (rate limiting) that must know the
// identity before the handler itself parses the request.
func peekUserID(r *http.Request) string {
	if uid := queryUserID(r); uid != "" {
		return uid
	}
	if r.Body == nil {
		return ""
	}
	data, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var probe struct {
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.UserID
}
