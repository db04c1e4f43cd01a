package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

func newTestServer(deps Dependencies) http.Handler {
	return NewServer(DefaultServerConfig(), deps, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
}

func TestHealthz(t *testing.T) {
	msg := "dial tcp: connection refused"
	tests := []struct {
		name        string
		status      docstore.Status
		wantCode    int
		initialized bool
	}{
		{"completed", docstore.Status{DBType: "postgres", State: docstore.StateCompleted, Connected: true}, http.StatusOK, true},
		{"degraded", docstore.Status{DBType: "postgres", State: docstore.StateDegraded, Error: &msg}, http.StatusOK, false},
		{"failed", docstore.Status{DBType: "postgres", State: docstore.StateFailed, Error: &msg}, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(Dependencies{StorageStatus: func() docstore.Status { return tt.status }})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.initialized, body.Initialized)
			assert.Equal(t, tt.status.State, body.Storage.State)
			assert.Equal(t, tt.status.ErrorString(), body.Storage.ErrorString())
		})
	}
}

func TestHealthz_UsesRegistry(t *testing.T) {
	registry := observability.NewHealthRegistry()
	registry.Register("storage", observability.StorageHealthChecker(func() observability.StorageSnapshot {
		return observability.StorageSnapshot{DBType: "sqlite", State: "degraded"}
	}))

	h := newTestServer(Dependencies{Health: registry})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, observability.HealthStatusDegraded, body.Status)
	assert.Contains(t, body.Checks, "storage")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.SetStorageState("completed")

	h := newTestServer(Dependencies{Gatherer: reg})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `billsync_storage_state{state="completed"} 1`)
}

func TestWebhookRoute(t *testing.T) {
	called := false
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := newTestServer(Dependencies{Webhook: webhook})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
