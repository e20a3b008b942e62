// Package diagnostics serves the daemon's HTTP surface: liveness and
// readiness probes backed by internal/health, a rolled-up status document,
// and a Prometheus /metrics endpoint backed by internal/metrics.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mangamerged/mangamerged/internal/health"
	"github.com/mangamerged/mangamerged/internal/metrics"
	"github.com/mangamerged/mangamerged/pkg/logging"
)

// Server exposes the daemon's health, status, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	checker    *health.Checker
	collector  *metrics.Collector
	logger     logging.Logger
	config     Config
	version    string
}

// Config configures the diagnostics HTTP server.
type Config struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// DefaultConfig returns sane HTTP server defaults.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
	}
}

// NewServer builds a Server around a health checker and a metrics
// collector. Either may be nil: with a nil checker the health endpoints
// report "not configured" rather than panicking, and with a nil collector
// /metrics is not served.
func NewServer(config Config, checker *health.Checker, collector *metrics.Collector, logger logging.Logger, version string) *Server {
	s := &Server{
		checker:   checker,
		collector: collector,
		logger:    logger,
		config:    config,
		version:   version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/livez", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/info", s.handleInfo)

	if collector != nil && collector.Registry() != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	}

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// StartBackground starts the HTTP server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Log(logging.LevelError, "DIAG-SERVER-001", "diagnostics server stopped", logging.F("error", err.Error()))
			}
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "health checking not configured",
		})
		return
	}

	stats := s.checker.GetStats()
	statusCode := http.StatusOK
	switch stats.OverallStatus {
	case health.StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	case health.StatusDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"status":    stats.OverallStatus,
		"timestamp": time.Now(),
		"checks":    stats.TotalChecks,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "health checking not configured",
		})
		return
	}

	ready := s.checker.IsHealthy()
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.checker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "health checking not configured")
		return
	}

	status := s.checker.NewServiceStatus(s.version, nil)
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoints := []string{"/healthz", "/livez", "/readyz", "/status", "/info"}
	if s.collector != nil && s.collector.Registry() != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "mangamerged",
		"version":   s.version,
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.logger != nil {
			s.logger.Log(logging.LevelTrace, "DIAG-REQ-001", "diagnostics request served",
				logging.F("method", r.Method), logging.F("path", r.URL.Path), logging.F("duration", time.Since(start).String()))
		}
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil && s.logger != nil {
		s.logger.Log(logging.LevelWarning, "DIAG-ENCODE-001", "failed to encode diagnostics response", logging.F("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
