package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/vineyard-core/internal/gateway"
	"github.com/nerrad567/vineyard-core/internal/handler/rest"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/config"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/logging"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Traffic serves API traffic and lists its routes. *rest.Handler
// satisfies it.
type Traffic interface {
	http.Handler
	Routes() []rest.Route
}

// Deps holds the dependencies required by the server.
type Deps struct {
	Config    config.GatewayConfig
	Logger    *logging.Logger
	Registry  *registry.Registry
	Lifecycle *gateway.Lifecycle

	// Traffic is optional; without it every non-admin path answers 404.
	Traffic Traffic

	// Metrics is served at Config.MetricsPath when both are set.
	Metrics http.Handler

	Version string
}

// Server is the gateway's HTTP server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.GatewayConfig
	logger    *logging.Logger
	registry  *registry.Registry
	lifecycle *gateway.Lifecycle
	traffic   Traffic
	metrics   http.Handler
	version   string
	server    *http.Server
}

// New creates a new server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		lifecycle: deps.Lifecycle,
		traffic:   deps.Traffic,
		metrics:   deps.Metrics,
		version:   deps.Version,
	}, nil
}

// Handler returns the fully routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("gateway listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down gateway server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("gateway health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("gateway server not started")
	}

	return nil
}
