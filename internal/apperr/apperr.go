// Package apperr gives handlers a single typed error to inspect instead of
// scattering http.StatusX constants through business logic. Each Kind maps
// to exactly one HTTP status at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind discriminates the taxonomy from spec §7.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindNotFound
	KindConflict
	KindRateLimited
	KindTimeout
	KindBusy
	KindEngine
)

// Error wraps an inner error with a Kind and, for KindRateLimited, a
// Retry-After duration.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps Kind to the HTTP status the API boundary should answer.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Auth(format string, args ...interface{}) *Error {
	return New(KindAuth, fmt.Sprintf(format, args...))
}

func Busy(format string, args ...interface{}) *Error {
	return New(KindBusy, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func Engine(err error, format string, args ...interface{}) *Error {
	return Wrap(KindEngine, fmt.Sprintf(format, args...), err)
}

func RateLimited(retryAfter time.Duration, format string, args ...interface{}) *Error {
	e := New(KindRateLimited, fmt.Sprintf(format, args...))
	e.RetryAfter = retryAfter
	return e
}

// As is a small convenience over errors.As for the common case of pulling
// the *Error out of a wrapped chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
