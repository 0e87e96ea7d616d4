// Package observability exposes Prometheus metrics and health probes for
// the communication handler over HTTP.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server serves /metrics and the /health endpoints
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a new observability server listening on addr (e.g. ":9090")
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// Handler returns the routing table served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())
	mux.Handle("/metrics", MetricsHandler())

	return mux
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
