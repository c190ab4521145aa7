//
//
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/config"
	"github.com/road-telemetry/roadwatch/internal/telemetry"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server

	records RecordPort
	stream  StreamPort
	agents  AgentReadPort

	authMiddleware *auth.Middleware
	metricsPath    string
	metricsHandler http.Handler
	wsOptions      telemetry.WebSocketOptions

	logger          *slog.Logger
	version         string
	startTime       time.Time
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects record routes with m.
func WithAuth(m *auth.Middleware) Option { return func(s *Server) { s.authMiddleware = m } }

// WithMetrics serves h at path, outside /api/v1.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

func WithWebSocketOptions(o telemetry.WebSocketOptions) Option {
	return func(s *Server) { s.wsOptions = o }
}

// NewServer creates a new API server.
func NewServer(records RecordPort, stream StreamPort, agents AgentReadPort, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		records:         records,
		stream:          stream,
		agents:          agents,
		version:         "dev",
		startTime:       time.Now(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// OnShutdown registers f to run when Stop begins, alongside the drain of
// idle connections. The telemetry hub registers its Stop here so streaming
// handlers return and their connections can drain.
func (s *Server) OnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
