package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
	"github.com/sisques-labs/project-starter-sub009/internal/metrics"
	"github.com/sisques-labs/project-starter-sub009/internal/tracing"
)

// Dependencies are the services reachable from the operator API. Search is
// optional and its route is only mounted when set.
type Dependencies struct {
	Commands *cqrs.CommandBus
	Queries  *cqrs.QueryBus
	Replayer Replayer
	Events   EventFinder
	Search   Searcher
	Metrics  *metrics.Metrics
	Tracer   tracing.Tracer
}

// Server is the HTTP server for the operator API
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	deps       Dependencies
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	if deps.Tracer == nil {
		deps.Tracer = tracing.Disabled()
	}

	server := &Server{
		cfg:    cfg,
		router: gin.New(),
		deps:   deps,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:    cfg.Address,
		Handler: server.router,
	}

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.deps.Tracer.Middleware())
	s.router.Use(LoggingMiddleware())

	if s.deps.Metrics != nil {
		s.router.Use(MetricsMiddleware(s.deps.Metrics))
	}

	if s.cfg.Timeout > 0 {
		s.router.Use(TimeoutMiddleware(s.cfg.Timeout))
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	if s.deps.Metrics != nil && s.cfg.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")

	v1.POST("/commands", s.executeCommand)
	v1.POST("/replay", s.replayEvents)
	v1.GET("/events", s.listEvents)

	sagaRoutes := v1.Group("/sagas")
	{
		sagaRoutes.GET("", s.listSagas)
		sagaRoutes.GET("/:id", s.getSaga)
		sagaRoutes.GET("/:id/steps", s.getSagaSteps)
		sagaRoutes.GET("/:id/logs", s.getSagaLogs)
		sagaRoutes.POST("/:id/cancel", s.cancelSaga)
		sagaRoutes.DELETE("/:id", s.deleteSaga)
	}

	v1.GET("/saga-steps/:id/logs", s.getStepLogs)

	if s.deps.Search != nil {
		v1.GET("/search/:index", s.search)
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
