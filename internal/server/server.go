package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/engine"
	"github.com/lazypower/rekindle/internal/lifecycle"
	"github.com/lazypower/rekindle/internal/store"
)

// Server is the rekindle HTTP API server.
type Server struct {
	db        *store.DB
	engine    *engine.Engine
	lifecycle *lifecycle.Manager
	router    chi.Router
	log       zerolog.Logger
	version   string
	started   time.Time
	now       func() time.Time
}

// New creates a new Server over the store, generation engine and lifecycle manager.
func New(db *store.DB, eng *engine.Engine, lc *lifecycle.Manager, version string, log zerolog.Logger) *Server {
	s := &Server{
		db:        db,
		engine:    eng,
		lifecycle: lc,
		log:       log.With().Str("component", "server").Logger(),
		version:   version,
		started:   time.Now(),
		now:       time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Put("/", s.handlePutUser)
			r.Put("/contacts", s.handlePutContacts)
			r.Put("/comentions", s.handlePutCoMentions)
			r.Post("/generate", s.handleGenerate)
			r.Get("/suggestions", s.handleListSuggestions)
		})

		r.Route("/suggestions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSuggestion)
			r.Post("/accept", s.handleAccept)
			r.Post("/dismiss", s.handleDismiss)
			r.Post("/snooze", s.handleSnooze)
		})
	})

	s.router = r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"db":        dbOK,
		"db_driver": s.db.Driver,
	})
}
