package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/metrics"
)

type failingSource struct{}

func (failingSource) Load(context.Context) (*manifest.ProjectManifest, error) {
	return nil, errors.New("disk on fire")
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *manifest.Store) {
	t.Helper()
	store := manifest.NewStore(filepath.Join(t.TempDir(), "state.json"), logging.NewNop())
	s, err := NewServer(store, logging.NewNop(), &Config{Version: "0.1.0"}, opts...)
	require.NoError(t, err)
	return s, store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses default address", func(t *testing.T) {
		s, _ := newTestServer(t)
		assert.Equal(t, DefaultAddr, s.config.Addr)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(failingSource{}, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "manifest store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, WithHealthChecker(func() string { return "degraded" }))
	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "degraded", resp.Telemetry)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleStatus(t *testing.T) {
	s, store := newTestServer(t)

	var resp StatusResponse
	rec := get(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.Status)

	ctx := context.Background()
	_, err := store.CreateProject(ctx, "sess-1", "dev/int-sess-1", manifest.CycleIDs(3))
	require.NoError(t, err)
	require.NoError(t, store.UpdateCycleState(ctx, "01", manifest.CycleUpdate{Status: manifest.Ptr(manifest.StatusCompleted)}))
	require.NoError(t, store.UpdateCycleState(ctx, "02", manifest.CycleUpdate{Status: manifest.Ptr(manifest.StatusInProgress)}))

	rec = get(t, s, "/api/v1/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "0.1.0", resp.Version)
	assert.Equal(t, StatusCounts{Planned: 1, InProgress: 1, Completed: 1}, resp.Counts)
}

func TestHandleCycles(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	rec := get(t, s, "/api/v1/cycles")
	assert.JSONEq(t, "[]", rec.Body.String())

	_, err := store.CreateProject(ctx, "sess-1", "", manifest.CycleIDs(2))
	require.NoError(t, err)
	require.NoError(t, store.UpdateCycleState(ctx, "02", manifest.CycleUpdate{JulesSessionID: manifest.Ptr("sessions/9")}))

	var list []CycleResponse
	rec = get(t, s, "/api/v1/cycles")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "sessions/9", list[1].AgentSessionID)

	var one CycleResponse
	rec = get(t, s, "/api/v1/cycles/01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "planned", one.Status)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/cycles/99").Code)
}

func TestHandleStatus_LoadError(t *testing.T) {
	s, err := NewServer(failingSource{}, logging.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/api/v1/status").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.RecordCycle("completed")

	s, _ := newTestServer(t, WithMetricsHandler(m.Handler()))
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "accdd_cycles_total"), rec.Body.String())

	s, _ = newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}
