package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/engine"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/planner"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/places"
)

// emptyProvider returns no listings, so launched jobs complete after one
// page per planned area.
type emptyProvider struct{}

func (emptyProvider) Search(context.Context, places.SearchRequest) (*places.SearchResponse, error) {
	return &places.SearchResponse{}, nil
}

func newTestServer(t *testing.T) (*Server, *engine.Manager, store.Store) {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	exec := engine.NewExecutor(s, emptyProvider{}, rate.NewLimiter(rate.Inf, 1), nil, nil, engine.DefaultConfig())
	m := engine.NewManager(s, exec, planner.New(planner.DefaultConfig(), nil), nil, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	return NewServer(context.Background(), m), m, s
}

func seedAreas(t *testing.T, s store.Store) {
	t.Helper()
	pop := func(v int64) *int64 { return &v }
	_, err := s.UpsertAreas(context.Background(), []model.Area{
		{Name: "Springfield", Country: "US", Population: pop(120000)},
		{Name: "Shelbyville", Country: "US", Population: pop(45000)},
	})
	require.NoError(t, err)
}

func createPendingJob(t *testing.T, s store.Store, clientID string) *model.ScrapeJob {
	t.Helper()
	pop := int64(50000)
	job, err := s.CreateJob(context.Background(), model.JobSpec{
		ClientID: clientID, Query: "plumber", Country: "US",
	}, []model.PlannedArea{
		{Name: "Springfield", Country: "US", Population: &pop, Tier: model.TierMedium, PageBudget: 3},
	}, 0.1)
	require.NoError(t, err)
	return job
}

func TestServer_Healthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_SubmitJob_Accepted(t *testing.T) {
	srv, m, s := newTestServer(t)
	seedAreas(t, s)

	body := []byte(`{"client_id":"client-a","query":"plumber","country":"US"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID      string `json:"job_id"`
		AreasTotal int    `json:"areas_total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, 2, resp.AreasTotal)

	// The job was launched, not just persisted.
	require.NoError(t, m.Wait(context.Background(), resp.JobID))
	job, err := s.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}

func TestServer_SubmitJob_InvalidJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_SubmitJob_MissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"query":"plumber"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "client_id")
}

func TestServer_GetJob_ReturnsSnapshot(t *testing.T) {
	srv, _, s := newTestServer(t)
	job := createPendingJob(t, s, "client-a")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), job.ID)
	assert.Contains(t, rec.Body.String(), "pending")
}

func TestServer_GetJob_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/no-such-job", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job not found")
}

func TestServer_ListJobs_Filters(t *testing.T) {
	srv, _, s := newTestServer(t)
	createPendingJob(t, s, "client-a")
	createPendingJob(t, s, "client-b")

	get := func(path string) (*httptest.ResponseRecorder, int) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp.Count
	}

	rec, count := get("/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, count)

	_, count = get("/v1/jobs?client_id=client-b")
	assert.Equal(t, 1, count)

	_, count = get("/v1/jobs?status=pending")
	assert.Equal(t, 2, count)

	_, count = get("/v1/jobs?status=running")
	assert.Equal(t, 0, count)

	_, count = get("/v1/jobs?limit=1")
	assert.Equal(t, 1, count)
}

func TestServer_ListJobs_BadLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?limit=abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid limit")
}

func TestServer_PauseJob_NotRunning(t *testing.T) {
	srv, _, s := newTestServer(t)
	job := createPendingJob(t, s, "client-a")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/pause", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not running")
}

func TestServer_ResumeJob_Accepted(t *testing.T) {
	srv, m, s := newTestServer(t)
	job := createPendingJob(t, s, "client-a")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/resume", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "resuming")

	require.NoError(t, m.Wait(context.Background(), job.ID))
	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestServer_ResumeJob_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/no-such-job/resume", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ResumeJob_Terminal(t *testing.T) {
	srv, m, s := newTestServer(t)
	job := createPendingJob(t, s, "client-a")

	require.NoError(t, m.Start(context.Background(), job.ID))
	require.NoError(t, m.Wait(context.Background(), job.ID))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/resume", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not resumable")
}
