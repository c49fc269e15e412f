package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pentagent/pentagent/internal/auth"
	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/internal/events"
	"github.com/pentagent/pentagent/internal/metrics"
	"github.com/pentagent/pentagent/pkg/types"
)

// ConnectionStore is the persistence surface the relay handlers need.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, c types.RemoteConnection) error
	GetConnection(ctx context.Context, connectionID string) (*types.RemoteConnection, error)
	TouchConnection(ctx context.Context, connectionID string) (bool, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

// LivenessRegistry is the heartbeat surface the relay handlers need.
// Implemented by conn.Registry.
type LivenessRegistry interface {
	MarkAlive(ctx context.Context, c types.RemoteConnection) error
	Drop(ctx context.Context, connectionID string)
}

// Server is the relay HTTP server remote clients poll for work.
type Server struct {
	echo         *echo.Echo
	store        ConnectionStore
	dispatcher   *dispatch.Dispatcher
	registry     LivenessRegistry
	tokens       auth.TokenVerifier
	jwt          *auth.JWTIssuer
	events       *events.Publisher
	connTokenTTL time.Duration
}

// Config bundles the relay server dependencies. Events may be nil.
type Config struct {
	Store      ConnectionStore
	Dispatcher *dispatch.Dispatcher
	Registry   LivenessRegistry
	Tokens     auth.TokenVerifier
	JWT        *auth.JWTIssuer
	Events     *events.Publisher
}

// NewServer creates the relay API server with all routes configured.
func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		tokens:       cfg.Tokens,
		jwt:          cfg.JWT,
		events:       cfg.Events,
		connTokenTTL: 30 * 24 * time.Hour,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(metrics.EchoMiddleware())

	// Health check (no auth)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// One-time authentication with the long-lived connect token
	e.POST("/api/connect", s.connect)

	// Everything else requires the connection-scoped JWT from connect
	relay := e.Group("/api/connections/:id")
	relay.Use(auth.ConnectionJWTMiddleware(cfg.JWT))
	relay.POST("/heartbeat", s.heartbeat)
	relay.POST("/disconnect", s.disconnect)
	relay.GET("/commands/pending", s.pendingCommands)
	relay.POST("/commands/:commandID/executing", s.markExecuting)
	relay.POST("/commands/:commandID/result", s.submitResult)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}

// Echo exposes the underlying echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
