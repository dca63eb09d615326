package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/catalog"
	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/notification"
	"github.com/saltyorg/quicksell/internal/web/handlers"
	"github.com/saltyorg/quicksell/internal/web/middleware"
	"github.com/saltyorg/quicksell/internal/web/sse"
)

// Server represents the web server
type Server struct {
	db          *database.Manager
	port        int
	bind        string
	router      *chi.Mux
	authService *auth.Service
	handlers    *handlers.Handlers
	events      *sse.Broker
}

// NewServer creates a new web server
func NewServer(db *database.Manager, m *models.Models, authService *auth.Service, store *catalog.Store, port int, bind string) *Server {
	events := sse.NewBroker()
	s := &Server{
		db:          db,
		port:        port,
		bind:        bind,
		router:      chi.NewRouter(),
		authService: authService,
		handlers:    handlers.New(m, authService, store, events),
		events:      events,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetNotifier sets the manager that delivers account messages
func (s *Server) SetNotifier(n *notification.Manager) {
	s.handlers.SetNotifier(n)
}

// Events returns the chat event broker
func (s *Server) Events() *sse.Broker {
	return s.events
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	timeouts := config.GetTimeouts()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		// Event streams outlive any unit of work, so they stay outside Session.
		r.Get("/events/", s.streamEvents)

		// Every other API request runs inside one session that commits before
		// the response is written.
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(timeouts.Request))
			r.Use(middleware.Session(s.db))
			s.apiRoutes(r)
		})
	})
}

// apiRoutes mounts the session-scoped API.
func (s *Server) apiRoutes(r chi.Router) {
	h := s.handlers

	// Public routes
	r.Group(func(r chi.Router) {
		r.Post("/users/", h.Wrap(h.Register))
		r.Post("/users/auth/", h.Wrap(h.Login))
		r.Post("/users/password-reset/", h.Wrap(h.RequestPasswordReset))
		r.Post("/users/password-reset/confirm/", h.Wrap(h.ConfirmPasswordReset))
		r.Get("/users/{uuid}/", h.Wrap(h.GetProfile))

		r.Get("/listings/", h.Wrap(h.ListListings))
		r.Get("/listings/categories/", h.Wrap(h.CategoryTree))
		r.Get("/listings/{uuid}/", h.Wrap(h.GetListing))
	})

	// Protected routes (bearer token required)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.authService))

		r.Get("/users/", h.Wrap(h.CurrentUser))
		r.Patch("/users/", h.Wrap(h.UpdateProfile))
		r.Post("/users/logout/", h.Wrap(h.Logout))

		r.Route("/users/favorites", func(r chi.Router) {
			r.Get("/", h.Wrap(h.Favorites))
			r.Put("/", h.Wrap(h.AddFavorite))
			r.Delete("/", h.Wrap(h.RemoveFavorite))
		})

		r.Post("/listings/", h.Wrap(h.CreateListing))
		r.Patch("/listings/{uuid}/", h.Wrap(h.UpdateListing))
		r.Delete("/listings/{uuid}/", h.Wrap(h.DeleteListing))

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", h.Wrap(h.Chats))
			r.Post("/", h.Wrap(h.CreateChat))
			r.Get("/{uuid}/messages/", h.Wrap(h.Messages))
			r.Post("/{uuid}/messages/", h.Wrap(h.PostMessage))
		})
	})
}

// health reports whether the store answers.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	db := s.db.DB()
	status := http.StatusOK
	body := `{"status":"ok"}`
	if db == nil {
		status, body = http.StatusServiceUnavailable, `{"status":"disconnected"}`
	} else if err := db.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		status, body = http.StatusServiceUnavailable, `{"status":"unhealthy"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// streamEvents sends the chat events of the current user as server-sent
// events. Browsers cannot set headers on an EventSource, so the token may
// also be passed as the access_token query parameter.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}

	var profileID int64
	err := s.db.StartSession(r.Context(), func(ctx context.Context, sess *database.Session) error {
		user, err := s.authService.CurrentUser(ctx, sess, token)
		if err != nil {
			return err
		}
		profile, err := s.authService.ProfileOf(ctx, sess, user)
		if err != nil {
			return err
		}
		profileID = profile.ID
		return nil
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	s.events.Serve(w, r, profileID)
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	timeouts := config.GetTimeouts()
	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: timeouts.HTTPRead,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: timeouts.HTTPIdle,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Open event streams would otherwise hold Shutdown until its deadline.
		s.events.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
