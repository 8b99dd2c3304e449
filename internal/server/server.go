// Package server provides the HTTP API for trialscope.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/keyword"
	"github.com/trialscope/trialscope/internal/match"
	"github.com/trialscope/trialscope/internal/metrics"
	"github.com/trialscope/trialscope/internal/trialstore"
	"github.com/trialscope/trialscope/internal/vector"
)

// Server is the HTTP server for the trialscope API.
type Server struct {
	engine   *match.Engine
	store    *trialstore.Store
	keywords *keyword.Index
	index    vector.Index
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. keywords and
// index may be nil; their endpoints then report unavailability.
func NewServer(
	engine *match.Engine,
	store *trialstore.Store,
	keywords *keyword.Index,
	index vector.Index,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		store:    store,
		keywords: keywords,
		index:    index,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(metrics.Middleware())

	r.Post("/api/v1/match", s.handleMatch)
	r.Get("/api/v1/trials/{id}", s.handleGetTrial)
	r.Get("/api/v1/trials/search", s.handleSearchTrials)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
