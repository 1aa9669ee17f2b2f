// Package api exposes the reconciliation service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/pkg/logger"
)

// Config holds API server configuration.
type Config struct {
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Debug           bool          `json:"debug" yaml:"debug" mapstructure:"debug"`
	Version         string        `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns the default API server settings.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		MaxBodyBytes:    32 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks the server settings.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// EventLister returns recorded run events. The SQLite store implements it.
type EventLister interface {
	RecentEvents(ctx context.Context, kind events.Kind, limit int) ([]events.Event, error)
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	service    *reconciler.Service
	events     EventLister
	logger     logger.Logger
}

// NewServer creates the API server. GET /api/events is only registered
// when eventLister is non-nil.
func NewServer(cfg Config, service *reconciler.Service, eventLister EventLister, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		service: service,
		events:  eventLister,
		logger:  log.WithComponent("api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestID())
	s.router.Use(requestLogger(s.logger, "/health"))
	s.router.Use(bodyLimit(s.config.MaxBodyBytes))
}

func (s *Server) setupRoutes() {
	// Health check (no /api prefix, for load balancers)
	s.router.GET("/health", s.health)

	api := s.router.Group("/api")
	{
		api.GET("/model", s.modelInfo)
		if s.events != nil {
			api.GET("/events", s.listEvents)
		}
		api.POST("/match", s.match)
		api.POST("/reconcile", s.reconcile)
		api.POST("/suggest", s.suggest)
		api.POST("/train", s.train)
		api.POST("/evaluate", s.evaluate)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", addr).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the HTTP handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
