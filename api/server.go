// Package api provides the HTTP layer: routing, middleware, and
// lifecycle for the question-answering service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"docuquery/api/handlers"
	"docuquery/api/middleware"
	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/pipeline"
	"docuquery/pkg/providers"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg       *config.Config
	router    *gin.Engine
	server    *http.Server
	deadlines *deadline.Controller
	set       *providers.Set
	logger    zerolog.Logger
}

func NewServer(cfg *config.Config, coordinator *pipeline.Coordinator, deadlines *deadline.Controller, set *providers.Set) *Server {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))
	logger := zlog.With().Str("component", "api-server").Logger()

	s := &Server{
		cfg:       cfg,
		deadlines: deadlines,
		set:       set,
		logger:    logger,
	}
	s.setupRouter(coordinator)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRouter(coordinator *pipeline.Coordinator) {
	if s.cfg.Server.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:  s.cfg.Server.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	if s.cfg.Server.RateLimit > 0 {
		v1.Use(middleware.RateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))
	}

	handler := handlers.NewHandler(coordinator, s.cfg)
	v1.POST("/hackrx/run", handler.Run)
	v1.POST("/process-pdf", handler.ProcessPDF)
}

// Start runs the server until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	go s.handleShutdown()

	s.logger.Info().
		Str("host", s.cfg.Server.Host).
		Int("port", s.cfg.Server.Port).
		Float64("timeout_seconds", s.cfg.GlobalTimer.TimeoutSeconds).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests before exiting.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) handleShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := s.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error during shutdown")
	}
}

// handleHealth reports provider reachability and active deadlines.
// Provider checks share a short timeout so the endpoint stays fast.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	llmStatus := "ok"
	if err := s.set.LLM.Health(ctx); err != nil {
		llmStatus = "unreachable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"llm":              llmStatus,
		"active_deadlines": s.deadlines.ActiveCount(),
	})
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
