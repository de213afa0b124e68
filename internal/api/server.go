package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/config"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/washbay-gateway/internal/washbay"
	"github.com/nerrad567/washbay-gateway/internal/washlog"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BayReader exposes the gateway's live bay table. *washbay.Gateway
// implements it.
type BayReader interface {
	Bays(ctx context.Context) ([]washbay.BayView, error)
	Bay(ctx context.Context, id string) (washbay.BayView, bool, error)
	Connected() bool
}

// LogReader reads wash history. *washlog.Repository implements it.
type LogReader interface {
	List(ctx context.Context, filter washlog.Filter) (*washlog.ListResult, error)
	Stats(ctx context.Context) (*washlog.Stats, error)
}

// ConnectionChecker reports whether a dependency is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthChecker pings a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bays    BayReader
	Logs    LogReader
	MQTT    ConnectionChecker // optional
	DB      HealthChecker     // optional
	Metrics http.Handler      // optional, served at /metrics
	Version string
}

// Server is the HTTP ops server.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	bays    BayReader
	logs    LogReader
	mqtt    ConnectionChecker
	db      HealthChecker
	metrics http.Handler
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bays == nil {
		return nil, fmt.Errorf("bay reader is required")
	}
	if deps.Logs == nil {
		return nil, fmt.Errorf("log reader is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		bays:    deps.Bays,
		logs:    deps.Logs,
		mqtt:    deps.MQTT,
		db:      deps.DB,
		metrics: deps.Metrics,
		version: deps.Version,
	}, nil
}

// Start begins listening in a background goroutine. Stop it with Close.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
