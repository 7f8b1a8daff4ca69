package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. A nil tracing provider disables
// request spans; request ids are issued either way.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, scorer *scoring.Service, tracing trace.TracerProvider, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, scorer, version)
	router := chi.NewRouter()

	if tracing == nil {
		tracing = noop.NewTracerProvider()
	}

	router.Use(allowCORS)
	router.Use(recoverPanics)
	router.Use(requestID)
	router.Use(traceRequests(tracing.Tracer(tracerName)))
	router.Use(logRequests)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(requireTenant)

		r.Get("/scores", handler.GetScores)
		r.Post("/scores/runs", handler.CreateRun)
		r.Get("/scores/runs/{id}", handler.GetRun)

		r.Route("/parameter-sets", func(r chi.Router) {
			r.Get("/", handler.ListParameterSets)
			r.Post("/", handler.CreateParameterSet)
			r.Get("/active", handler.GetActiveParameterSet)
			r.Get("/{id}", handler.GetParameterSet)
			r.Delete("/{id}", handler.DeleteParameterSet)

			r.Get("/{id}/segments", handler.ListSegments)
			r.Post("/{id}/segments", handler.CreateSegment)
			r.Delete("/{id}/segments/{segmentID}", handler.DeleteSegment)
		})

		r.Post("/sales", handler.CreateSales)
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
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
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
