package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/catalog"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/notification"
	"github.com/saltyorg/quicksell/internal/web/middleware"
	"github.com/saltyorg/quicksell/internal/web/sse"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	models   *models.Models
	auth     *auth.Service
	catalog  *catalog.Store
	events   *sse.Broker
	notifier *notification.Manager
}

// New creates a new Handlers instance. events may be nil, in which case no
// chat events are published.
func New(m *models.Models, authService *auth.Service, store *catalog.Store, events *sse.Broker) *Handlers {
	return &Handlers{
		models:  m,
		auth:    authService,
		catalog: store,
		events:  events,
	}
}

// SetNotifier sets the manager that delivers account messages such as
// password reset codes.
func (h *Handlers) SetNotifier(n *notification.Manager) {
	h.notifier = n
}

// HandlerFunc handles one request inside its session. A returned error rolls
// the session back and is rendered as the response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, s *database.Session) error

// Wrap adapts fn to net/http. The route must be mounted behind
// middleware.Session.
func (h *Handlers) Wrap(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := database.SessionFromContext(r.Context())
		if err != nil {
			middleware.Fail(r, err)
			return
		}
		if err := fn(w, r, s); err != nil {
			middleware.Fail(r, err)
		}
	}
}

// writeJSON sends v as a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return middleware.BadRequest("Request body is empty")
		}
		log.Debug().Err(err).Msg("Failed to decode request body")
		return middleware.BadRequest("Invalid request body: " + err.Error())
	}
	return nil
}

// uuidParam parses a UUID URL parameter. Both hex and dashed forms are accepted.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, middleware.NotFound("Not found")
	}
	return id, nil
}

// pageParam returns the zero-based page from the query string.
func pageParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("page")
	if v == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(v)
	if err != nil {
		return 0, middleware.BadRequest("page must be an integer")
	}
	return page, nil
}

func boolParam(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, middleware.BadRequest(name + " must be a boolean")
	}
	return &b, nil
}

func intParam(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, middleware.BadRequest(name + " must be an integer")
	}
	return &n, nil
}

// clientIP returns the request address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// currentProfile returns the profile of the authenticated user.
func (h *Handlers) currentProfile(r *http.Request, s *database.Session) (*models.User, *models.Profile, error) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		return nil, nil, auth.ErrUnauthorized
	}
	profile, err := h.auth.ProfileOf(r.Context(), s, user)
	if err != nil {
		return nil, nil, err
	}
	return user, profile, nil
}
