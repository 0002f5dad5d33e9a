// Package server provides the HTTP server and routing for Quantfolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/database"
	rebalancinghandlers "github.com/quantfolio/quantfolio/internal/modules/rebalancing/handlers"
	settingshandlers "github.com/quantfolio/quantfolio/internal/modules/settings/handlers"
	"github.com/quantfolio/quantfolio/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	ConfigDB *database.DB
	CacheDB  *database.DB
	Port     int
	DevMode  bool

	SettingsHandler    *settingshandlers.Handler
	RebalancingHandler *rebalancinghandlers.Handler

	// RebalanceJob, when set, is exposed for manual triggering.
	RebalanceJob scheduler.Job
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	systemHandlers *SystemHandlers
	cfg            Config
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.ConfigDB, cfg.CacheDB, cfg.RebalanceJob),
		cfg:            cfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
		r.Post("/jobs/rebalance", s.systemHandlers.HandleTriggerRebalance)

		if h := s.cfg.SettingsHandler; h != nil {
			r.Get("/settings", h.HandleGetAll)
			r.Put("/settings/{key}", h.HandleUpdate)
			r.Get("/users", h.HandleListUsers)
			r.Get("/users/{user}/preferences", h.HandleGetPreferences)
			r.Put("/users/{user}/preferences", h.HandleSavePreferences)
		}

		if h := s.cfg.RebalancingHandler; h != nil {
			r.Route("/rebalancing/{user}", func(r chi.Router) {
				r.Post("/plan", h.HandleCreatePlan)
				r.Get("/plan", h.HandleLatestPlan)
				r.Get("/plans", h.HandlePlanHistory)
				r.Get("/portfolio", h.HandlePortfolio)
				r.Get("/index", h.HandleIndex)
				r.Get("/index/stats", h.HandleIndexStats)
			})
		}
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
