// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports malformed input or a rejected mutation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict reports a lost optimistic update or a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized reports a bad webhook secret or a deactivated bot.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstream reports a failed call to Telegram or the queue.
	ErrUpstream = errors.New("upstream failure")
)

// NotFound builds an ErrNotFound with context.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Invalid builds an ErrInvalidArgument with context.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Conflict builds an ErrConflict with context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unauthorized builds an ErrUnauthorized with context.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// Upstream wraps cause as an ErrUpstream. Both remain matchable with errors.Is.
func Upstream(cause error, format string, args ...any) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUpstream, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, fmt.Sprintf(format, args...), cause)
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable name for logs.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM"
	default:
		return "INTERNAL"
	}
}
