package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/shellyflux/internal/buffer"
	"github.com/nerrad567/shellyflux/internal/infrastructure/config"
	"github.com/nerrad567/shellyflux/internal/infrastructure/logging"
	"github.com/nerrad567/shellyflux/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource is the registry view the API serves.
type DeviceSource interface {
	Snapshot() []registry.Device
	Get(id string) (registry.Device, error)
	Stats() registry.Stats
}

// BufferSource provides write-buffer counters.
type BufferSource interface {
	Stats() buffer.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Devices DeviceSource
	Buffer  BufferSource
	Version string
}

// Server is the read-only status HTTP server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	devices   DeviceSource
	buffer    BufferSource
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		devices:   deps.Devices,
		buffer:    deps.Buffer,
		version:   deps.Version,
		startTime: time.Now(),
	}
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: Always nil; listen failures surface through the logger
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
		s.logger.Info("status API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}
