package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func okCheck(ctx context.Context) (bool, error)   { return true, nil }
func failCheck(ctx context.Context) (bool, error) { return false, errors.New("no credentials") }

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("mock")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "healthy" || status.Backend != "mock" {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]HealthCheckFunc
		expected int
		status   string
	}{
		{"all healthy", map[string]HealthCheckFunc{"backend": okCheck}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthCheckFunc{"backend": okCheck, "breaker": failCheck}, http.StatusServiceUnavailable, "not_ready"},
		{"no checks", nil, http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected application/json, got %q", ct)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.status {
				t.Errorf("Expected status %q, got %q", tt.status, status.Status)
			}
		})
	}
}

func TestGRPCHealthServer_Refresh(t *testing.T) {
	failing := true
	checks := map[string]HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) { return !failing, nil },
	}
	s := NewGRPCHealthServer(checks, 0, zerolog.Nop())

	s.refresh(context.Background())
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %v", resp.Status)
	}

	failing = false
	s.refresh(context.Background())
	resp, err = s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", resp.Status)
	}
}
