package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/models"
)

type contextKey string

const (
	// UserContextKey is the context key for the authenticated user
	UserContextKey contextKey = "user"
	// outcomeContextKey carries the error a handler reported for its request
	outcomeContextKey contextKey = "outcome"
)

type outcome struct {
	err error
}

// Logger is a middleware that logs requests
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("Request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// Fail records err as the outcome of the request. The session opened by
// Session is rolled back and err is rendered instead of the buffered
// response. Only the first error is kept.
func Fail(r *http.Request, err error) {
	if o, ok := r.Context().Value(outcomeContextKey).(*outcome); ok && o.err == nil {
		o.err = err
	}
}

// Session runs every request inside one unit of work. The handler writes
// into a buffer that is sent only after the session committed, so a client
// never sees a success response for a rolled back change.
func Session(m *database.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o := &outcome{}
			buf := newBufferedWriter()
			ctx := context.WithValue(r.Context(), outcomeContextKey, o)

			err := m.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
				next.ServeHTTP(buf, r.WithContext(ctx))
				return o.err
			})
			if err != nil {
				WriteError(w, r, err)
				return
			}
			buf.flushTo(w)
		})
	}
}

// Authenticate resolves the bearer token to the current user. It must run
// inside Session.
func Authenticate(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := database.SessionFromContext(r.Context())
			if err != nil {
				Fail(r, err)
				return
			}
			user, err := svc.CurrentUser(r.Context(), s, BearerToken(r))
			if err != nil {
				Fail(r, err)
				return
			}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser retrieves the user from context
func GetUser(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// bufferedWriter holds a response until the session outcome is known.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if b.body.Len() > 0 {
		if _, err := w.Write(b.body.Bytes()); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}
