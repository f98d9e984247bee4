package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. m may be nil, in which case /metrics
// answers 404.
func NewServer(cfg domain.ServerConfig, handler *Handler, m *metrics.Metrics) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(AccessMiddleware(m))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes and metrics (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", m.Handler())

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/assessments", handler.CreateAssessment)
		r.Route("/assessments/{id}", func(r chi.Router) {
			r.Get("/", handler.GetAssessment)
			r.Get("/analysis", handler.GetAnalysis)
			r.Get("/explanation", handler.GetExplanation)
			r.Get("/visualization", handler.GetVisualization)
		})

		r.Post("/applicants", handler.CreateApplicant)
		r.Get("/applicants/{id}", handler.GetApplicant)
		r.Get("/applicants/{id}/assessments", handler.ListApplicantAssessments)

		r.Get("/models", handler.ListModels)
		r.Post("/models", handler.CreateModel)
		r.Get("/models/{id}", handler.GetModel)
		r.Put("/models/{id}/status", handler.UpdateModelStatus)
		r.Post("/models/{id}/score", handler.ScoreModel)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
