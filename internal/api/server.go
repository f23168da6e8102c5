// Package api serves the synchronizer's device view over HTTP and WebSocket
// to local consumers.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// All methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/config"
	"github.com/wattwise/wattsync/internal/infrastructure/logging"
	"github.com/wattwise/wattsync/internal/synchronizer"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Syncer is the synchronizer surface the API exposes.
// *synchronizer.Synchronizer satisfies it.
type Syncer interface {
	HouseID() int
	Devices() []device.Device
	Device(id int) (device.Device, error)
	Status() synchronizer.Status
	Stats() synchronizer.Stats
	Load(ctx context.Context) error
	Toggle(ctx context.Context, deviceID int) (string, error)
	AddDevice(ctx context.Context, in device.Input) (device.Device, error)
	UpdateDevice(ctx context.Context, deviceID int, in device.Input) (device.Device, error)
	RemoveDevice(ctx context.Context, deviceID int) error
}

// HealthChecker is implemented by infrastructure clients reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Sync    Syncer
	Health  map[string]HealthChecker
	Version string
}

// Server is the local HTTP API server.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	sync    Syncer
	health  map[string]HealthChecker
	version string

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sync == nil {
		return nil, fmt.Errorf("synchronizer is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		sync:    deps.Sync,
		health:  deps.Health,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger, deps.Sync),
	}
	return s, nil
}

// Hub returns the WebSocket hub, to be subscribed to the synchronizer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
	}

	// Bind synchronously so a port in use fails Start.
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
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
