package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/database"
)

// HTTPError is an error with a fixed response status.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NotFound reports a missing resource.
func NotFound(message string) error {
	return &HTTPError{Status: http.StatusNotFound, Message: message}
}

// BadRequest reports invalid input.
func BadRequest(message string) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: message}
}

// Forbidden reports an action the user may not perform.
func Forbidden(message string) error {
	return &HTTPError{Status: http.StatusForbidden, Message: message}
}

// StatusFor maps an error to the response status and the message shown to
// the client. Unexpected errors are hidden behind a generic message.
func StatusFor(err error) (int, string) {
	var he *HTTPError
	var uv *database.UniqueViolation
	switch {
	case errors.As(err, &he):
		return he.Status, he.Message
	case errors.As(err, &uv):
		return http.StatusConflict, uv.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, auth.ErrResetCode):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// WriteError sends err as a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
