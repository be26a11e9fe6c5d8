package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetHealthChecker(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		version:    version,
	}
}

func TestGetHealthAggregatesComponentStates(t *testing.T) {
	resetHealthChecker("1.0.0")

	RegisterComponent("store", true, "open")
	RegisterComponent("worker", true, "dispatching")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Components, 2)
	require.Equal(t, "1.0.0", health.Version)

	UpdateComponent("worker", false, "claim loop wedged")
	health = GetHealth()
	require.Equal(t, "unhealthy", health.Status)
	require.Equal(t, "unhealthy: claim loop wedged", health.Components["worker"])
}

func TestGetReadinessRequiresAllCriticalComponents(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("store", true, "")
	// worker and reconciler not registered yet
	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
	require.NotEmpty(t, readiness.Message)

	RegisterComponent("worker", true, "")
	RegisterComponent("reconciler", true, "")
	readiness = GetReadiness()
	require.Equal(t, "ready", readiness.Status)

	UpdateComponent("reconciler", false, "sweep failing")
	readiness = GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
}

func TestHealthHandlerReturns503WhenUnhealthy(t *testing.T) {
	resetHealthChecker("")
	RegisterComponent("store", false, "db closed")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "unhealthy", health.Status)
}

func TestReadyHandlerReturns503UntilCriticalComponentsRegister(t *testing.T) {
	resetHealthChecker("")
	RegisterComponent("store", true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	RegisterComponent("worker", true, "")
	RegisterComponent("reconciler", true, "")
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLivenessHandlerAlwaysReturns200(t *testing.T) {
	resetHealthChecker("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "alive", response["status"])
	require.NotEmpty(t, response["uptime"])
}
