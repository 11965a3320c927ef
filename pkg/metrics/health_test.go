package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("coordination", true, "connected")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["coordination"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}

	if comp.Message != "connected" {
		t.Errorf("expected message 'connected', got '%s'", comp.Message)
	}
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetHealthChecker()
	SetVersion("1.0.0")

	RegisterComponent("coordination", true, "connected")
	RegisterComponent("store", true, "open")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealthUnhealthyComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("coordination", true, "connected")
	RegisterComponent("store", false, "database closed")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["store"] != "unhealthy: database closed" {
		t.Errorf("unexpected store component status: %s", health.Components["store"])
	}
}

func TestGetReadinessWaitsForCriticalComponents(t *testing.T) {
	resetHealthChecker()

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected 'not_ready' before registration, got '%s'", readiness.Status)
	}

	RegisterComponent("coordination", true, "connected")
	RegisterComponent("store", true, "open")

	readiness = GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("expected 'ready', got '%s'", readiness.Status)
	}
}

func TestHealthHandlerStatusCode(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("coordination", false, "connection refused")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("expected 'unhealthy', got '%s'", health.Status)
	}
}
