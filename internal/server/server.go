// Package server exposes the retrieval pipeline over HTTP: the analyze
// surface the desktop client calls, the memory and feedback endpoints,
// and a set of diagnostic endpoints for exercising individual stages.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tangent/internal/concepts"
	"tangent/internal/config"
	"tangent/internal/decisionlog"
	"tangent/internal/judge"
	"tangent/internal/logger"
	"tangent/internal/memstore"
	"tangent/internal/pipeline"
	"tangent/internal/router"
	"tangent/internal/websearch"
)

// Deps carries the collaborators every handler group needs.
type Deps struct {
	Pipeline  *pipeline.Controller
	Router    *router.Router
	Extractor *concepts.Extractor
	Judge     *judge.Judge
	Web       websearch.Searcher
	Store     memstore.Store
	Decisions *decisionlog.Logger
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     config.Server
}

// New creates a server instance.
func New(deps Deps, cfg config.Server) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		config: cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))

	// The desktop overlay talks to localhost from arbitrary origins.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/analyze", s.handleAnalyze)
	s.router.Post("/search-web", s.handleSearchWeb)
	s.router.Post("/save-to-memory", s.handleSaveToMemory)
	s.router.Post("/feedback", s.handleFeedback)

	s.router.Post("/test-exa", s.handleTestExa)
	s.router.Post("/test-tangential", s.handleTestTangential)
	s.router.Post("/test-vibe", s.handleTestVibe)
	s.router.Post("/test-orthogonal", s.handleTestOrthogonal)
	s.router.Post("/test-context-judge", s.handleTestContextJudge)
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	logger.Info("starting http server", map[string]any{"addr": s.httpServer.Addr})

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down http server", nil)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
