package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/R3duxLabs/EchoMind-Backend/internal/auth"
	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
	"github.com/R3duxLabs/EchoMind-Backend/internal/bus"
	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
	"github.com/R3duxLabs/EchoMind-Backend/internal/stream"
)

// Config holds HTTP server settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MetricsPath       string        // empty disables /metrics
	RateLimit         int           // requests per RateWindow per client IP, 0 disables
	RateWindow        time.Duration
	MaxBodyBytes      int64
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		MetricsPath:       "/metrics",
		RateLimit:         100,
		RateWindow:        time.Minute,
		MaxBodyBytes:      10 << 20,
	}
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components served over HTTP.
type Deps struct {
	Bus       *bus.Bus
	Gateway   *stream.Gateway
	Processor *batch.Processor
	Storage   Pinger       // optional
	Keys      *auth.Keys   // nil disables authentication
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
}

// New creates a server. Bus, Gateway and Processor are required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Bus == nil || deps.Gateway == nil || deps.Processor == nil {
		return nil, errors.New("server: bus, gateway and processor are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "http"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on cfg.Addr until ctx is cancelled, then closes stream
// sessions and drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Requests in flight when ctx is
// cancelled keep their contexts until the drain finishes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := s.deps.Gateway.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("stream shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
