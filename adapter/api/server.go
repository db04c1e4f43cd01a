// Package api serves the worker's HTTP surface: the provider webhook, the
// storage status probe and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// Server is the worker's HTTP server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
	deps   Dependencies
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8081",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Dependencies are the handlers and probes the server exposes. Webhook,
// Health and Gatherer are optional.
type Dependencies struct {
	Webhook       http.Handler
	StorageStatus func() docstore.Status
	Health        *observability.HealthRegistry
	Gatherer      prometheus.Gatherer
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status      observability.HealthStatus                 `json:"status"`
	Initialized bool                                       `json:"initialized"`
	Storage     docstore.Status                            `json:"storage"`
	Checks      map[string]observability.HealthCheckResult `json:"checks,omitempty"`
	Time        string                                     `json:"time"`
}

// NewServer creates the HTTP server.
func NewServer(cfg ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		deps:   deps,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.deps.Webhook != nil {
		s.mux.Handle("POST /webhooks/stripe", s.deps.Webhook)
	}

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth reports the storage status surface. A failed store answers
// 503 so orchestrators stop routing webhooks here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: observability.HealthStatusHealthy,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.StorageStatus != nil {
		resp.Storage = s.deps.StorageStatus()
		resp.Initialized = resp.Storage.Initialized()
	}
	if s.deps.Health != nil {
		overall := s.deps.Health.GetOverallHealth(r.Context())
		resp.Status = overall.Status
		resp.Checks = overall.Checks
	}

	status := http.StatusOK
	if resp.Storage.State == docstore.StateFailed || resp.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}
