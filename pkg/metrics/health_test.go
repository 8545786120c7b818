package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateComponent(t *testing.T) {
	h := NewHealthChecker()

	h.Update("store", true, "ok")
	h.Update("store", false, "disk full")

	comp, ok := h.Component("store")
	require.True(t, ok)
	assert.False(t, comp.Healthy)
	assert.Equal(t, "disk full", comp.Message)
}

func TestReport(t *testing.T) {
	h := NewHealthChecker()

	h.Report(ComponentBackend, errors.New("connection refused"))
	comp, _ := h.Component(ComponentBackend)
	assert.False(t, comp.Healthy)
	assert.Equal(t, "connection refused", comp.Message)

	h.Report(ComponentBackend, nil)
	comp, _ = h.Component(ComponentBackend)
	assert.True(t, comp.Healthy)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *HealthChecker)
		expected string
	}{
		{
			name: "all healthy",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, true, "")
				h.Update(ComponentIPC, true, "")
			},
			expected: "healthy",
		},
		{
			name: "one unhealthy",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, true, "")
				h.Update(ComponentBackend, false, "unreachable")
			},
			expected: "unhealthy",
		},
		{
			name:     "nothing registered",
			setup:    func(h *HealthChecker) {},
			expected: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			h.SetVersion("1.0.0")
			tt.setup(h)

			health := h.Health()
			assert.Equal(t, tt.expected, health.Status)
			assert.Equal(t, "1.0.0", health.Version)
		})
	}
}

func TestReadiness(t *testing.T) {
	t.Run("all critical ready", func(t *testing.T) {
		h := NewHealthChecker(ComponentBackend, ComponentStore)
		h.Update(ComponentBackend, true, "")
		h.Update(ComponentStore, true, "")

		r := h.Readiness()
		assert.Equal(t, "ready", r.Status)
		assert.Empty(t, r.Message)
	})

	t.Run("critical component missing", func(t *testing.T) {
		h := NewHealthChecker(ComponentBackend, ComponentStore)
		h.Update(ComponentStore, true, "")

		r := h.Readiness()
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "waiting for backend", r.Message)
		assert.Equal(t, "not registered", r.Components[ComponentBackend])
	})

	t.Run("critical component unhealthy", func(t *testing.T) {
		h := NewHealthChecker(ComponentBackend)
		h.Update(ComponentBackend, false, "no snapshot")

		r := h.Readiness()
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "not ready: no snapshot", r.Components[ComponentBackend])
	})

	t.Run("non critical components are ignored", func(t *testing.T) {
		h := NewHealthChecker(ComponentStore)
		h.Update(ComponentStore, true, "")
		h.Update("proxy", false, "down")

		assert.Equal(t, "ready", h.Readiness().Status)
	})
}

func TestHandlers(t *testing.T) {
	h := NewHealthChecker(ComponentStore)
	h.SetVersion("test")
	h.Update(ComponentStore, false, "closed")

	tests := []struct {
		path   string
		code   int
		status string
	}{
		{path: "/health", code: http.StatusServiceUnavailable, status: "unhealthy"},
		{path: "/ready", code: http.StatusServiceUnavailable, status: "not_ready"},
		{path: "/live", code: http.StatusOK, status: "alive"},
	}

	mux := h.Mux()
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}

	h.Update(ComponentStore, true, "")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	QueueLength.WithLabelValues("waiting").Set(3)

	w := httptest.NewRecorder()
	NewHealthChecker().Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `zoe_scheduler_queue_length{queue="waiting"} 3`)
}
