// Package server exposes identity verification over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/idcheck/internal/pipeline"
)

// Verifier is the part of the pipeline the server needs.
type Verifier interface {
	Verify(ctx context.Context, req pipeline.Request) *pipeline.Result
	Info() map[string]any
	Close() error
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	RateLimit       RateLimitConfig
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	mu          sync.RWMutex
	verifier    Verifier
	corsOrigin  string
	maxUpload   int64
	timeout     time.Duration
	shutdown    time.Duration
	rateLimiter *RateLimiter
	version     string
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Time     string         `json:"time"`
	Pipeline map[string]any `json:"pipeline,omitempty"`
}

// ErrorResponse is the body of every non-verification error.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server around v.
func NewServer(config Config, v Verifier, version string) (*Server, error) {
	if v == nil {
		return nil, errors.New("server: verifier is required")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 10
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 60
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}

	s := &Server{
		verifier:   v,
		corsOrigin: config.CORSOrigin,
		maxUpload:  config.MaxUploadMB * 1024 * 1024,
		timeout:    time.Duration(config.TimeoutSec) * time.Second,
		shutdown:   time.Duration(config.ShutdownTimeout) * time.Second,
		version:    version,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	}
	return s, nil
}

// SetVerifier swaps the verifier, closing the previous one. In-flight
// requests finish on the verifier they started with.
func (s *Server) SetVerifier(v Verifier) {
	s.mu.Lock()
	old := s.verifier
	s.verifier = v
	s.mu.Unlock()
	if old != nil && old != v {
		if err := old.Close(); err != nil {
			slog.Warn("Closing replaced verifier failed", "error", err)
		}
	}
}

func (s *Server) current() Verifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier
}

// Close releases server resources.
func (s *Server) Close() error {
	if v := s.current(); v != nil {
		return v.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/verify", s.corsMiddleware(s.rateLimitMiddleware(s.verifyHandler)))
	mux.HandleFunc("/ws/verify", s.rateLimitMiddleware(s.verifyWebSocketHandler))
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting verification server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Starting graceful shutdown", "timeout", s.shutdown.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}
	slog.Info("HTTP server shutdown completed")
	return nil
}
