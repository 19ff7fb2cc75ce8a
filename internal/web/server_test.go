package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elys-network/poolmigrator/internal/cache"
	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	runs      []state.RunRecord
	pingErr   error
	queryErr  error
	lastLimit int
}

func (f *fakeStore) RecentRuns(limit int) ([]state.RunRecord, error) {
	f.lastLimit = limit
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeStore) RunByPlanID(planID string) (*state.RunRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	for i := range f.runs {
		if f.runs[i].PlanID == planID {
			return &f.runs[i], nil
		}
	}
	return nil, errors.Join(state.ErrNotFound, fmt.Errorf("plan %s", planID))
}

func (f *fakeStore) Stats() (*state.MigrationStats, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	stats := &state.MigrationStats{TotalRuns: len(f.runs), ByStatus: map[types.MigrationStatus]int{}}
	for _, r := range f.runs {
		stats.ByStatus[r.Status]++
	}
	return stats, nil
}

func (f *fakeStore) Ping() error { return f.pingErr }

type fakeCache struct {
	stats   cache.Stats
	cleared bool
}

func (f *fakeCache) CacheStats(context.Context) (cache.Stats, error) { return f.stats, nil }

func (f *fakeCache) ClearCache(context.Context) error {
	f.cleared = true
	return nil
}

func testRuns() []state.RunRecord {
	return []state.RunRecord{
		{RunID: 2, PlanID: "plan-b", Status: types.StatusRolledBack, ManualIntervention: true},
		{RunID: 1, PlanID: "plan-a", Status: types.StatusCompleted},
	}
}

func serve(t *testing.T, ws *WebServer, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	ws := NewWebServer("", Options{})
	rec, body := serve(t, ws, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "disabled", body["migrator_status"].(map[string]any)["database"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	degraded := NewWebServer("", Options{Store: &fakeStore{pingErr: errors.New("connection refused")}})
	rec, body = serve(t, degraded, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEGRADED", body["status"])
	assert.Equal(t, "unreachable", body["migrator_status"].(map[string]any)["database"])
}

func TestMigrations(t *testing.T) {
	store := &fakeStore{runs: testRuns()}
	ws := NewWebServer("", Options{Store: store})

	rec, body := serve(t, ws, http.MethodGet, "/api/migrations?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.lastLimit)
	assert.EqualValues(t, 1, body["count"])

	serve(t, ws, http.MethodGet, "/api/migrations?limit=1000")
	assert.Equal(t, 20, store.lastLimit, "out of range limits fall back to the default")

	rec, body = serve(t, ws, http.MethodGet, "/api/migrations/plan-a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plan-a", body["plan_id"])
	assert.Equal(t, "completed", body["status"])

	rec, body = serve(t, ws, http.MethodGet, "/api/migrations/plan-z")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, true, body["error"])
}

func TestMigrations_StoreErrors(t *testing.T) {
	ws := NewWebServer("", Options{Store: &fakeStore{queryErr: errors.New("relation does not exist")}})

	rec, _ := serve(t, ws, http.MethodGet, "/api/migrations")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec, _ = serve(t, ws, http.MethodGet, "/api/migrations/plan-a")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec, _ = serve(t, ws, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStats(t *testing.T) {
	ws := NewWebServer("", Options{Store: &fakeStore{runs: testRuns()}})

	rec, body := serve(t, ws, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total_runs"])
	assert.EqualValues(t, 1, body["by_status"].(map[string]any)["rolled_back"])
}

func TestDisabledCollaboratorsAnswer503(t *testing.T) {
	ws := NewWebServer("", Options{})

	for _, path := range []string{"/api/migrations", "/api/migrations/x", "/api/stats", "/api/parameters", "/api/cache"} {
		rec, _ := serve(t, ws, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec, _ := serve(t, ws, http.MethodDelete, "/api/cache")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = serve(t, ws, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only routed when a handler is given")
}

func TestParametersAndCache(t *testing.T) {
	params := &types.MigrationParameters{MaxRoutes: 7, MinCompatibilityScore: 0.5}
	c := &fakeCache{stats: cache.Stats{Count: 2, Keys: []string{"routes:a", "compat:b"}}}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	ws := NewWebServer("", Options{Parameters: params, Cache: c, Metrics: metricsHandler})

	rec, body := serve(t, ws, http.MethodGet, "/api/parameters")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, body["parameters"].(map[string]any)["max_routes"])

	rec, body = serve(t, ws, http.MethodGet, "/api/cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = serve(t, ws, http.MethodDelete, "/api/cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cleared"])
	assert.True(t, c.cleared)

	metricsRec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Equal(t, "# metrics", metricsRec.Body.String())
}
