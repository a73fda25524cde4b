package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns the current application status snapshot.
type StatusFunc func(ctx context.Context) any

// CheckFunc reports whether a dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	server *http.Server
	status StatusFunc
	checks map[string]CheckFunc
}

// NewServer creates a new health server. checks maps dependency names to
// their health probes; a nil map means always healthy.
func NewServer(port int, status StatusFunc, checks map[string]CheckFunc) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		status: status,
		checks: checks,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if len(failures) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "unhealthy",
			"failures": failures,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.status == nil {
		_ = json.NewEncoder(w).Encode(map[string]string{})
		return
	}
	_ = json.NewEncoder(w).Encode(s.status(r.Context()))
}
