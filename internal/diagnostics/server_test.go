package diagnostics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mangamerged/mangamerged/internal/health"
	"github.com/mangamerged/mangamerged/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *health.Checker) {
	t.Helper()
	checker, err := health.NewChecker(health.DefaultConfig())
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	_ = checker.RegisterCheck("mount-ready", "", health.CategoryMount, health.PriorityCritical, func(ctx context.Context) error { return nil })
	if _, err := checker.RunAllChecks(context.Background()); err != nil {
		t.Fatalf("RunAllChecks() error = %v", err)
	}

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	return NewServer(DefaultConfig(), checker, collector, nil, "test"), checker
}

func TestHealthzReturnsHealthyWhenAllChecksPass(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzReflectsUnhealthyChecker(t *testing.T) {
	checker, _ := health.NewChecker(health.DefaultConfig())
	_ = checker.RegisterCheck("mount-ready", "", health.CategoryMount, health.PriorityCritical, func(ctx context.Context) error {
		return http.ErrHandlerTimeout
	})
	_, _ = checker.RunAllChecks(context.Background())

	s := NewServer(DefaultConfig(), checker, nil, nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestInfoListsMetricsEndpointWhenCollectorEnabled(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !containsSubstring(rec.Body.String(), "/metrics") {
		t.Error("expected /info body to list the /metrics endpoint")
	}
}

func TestStatusReturnsServiceUnavailableWithoutChecker(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, nil, nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
