package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-research/internal/metrics"
	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedJob creates a job that ran through cross-referencing with one
// conflict and one agreement.
func seedJob(t *testing.T, st store.Store, placeID string) *model.ResearchJob {
	t.Helper()
	ctx := context.Background()

	job, err := st.CreateJob(ctx, placeID, model.TriggerManual, false)
	require.NoError(t, err)
	from := model.JobStateQueued
	for _, to := range []model.JobState{
		model.JobStateAssembling, model.JobStatePassA, model.JobStatePassB, model.JobStateValidating,
		model.JobStateResolving, model.JobStateCrossReferencing, model.JobStateComplete,
	} {
		require.NoError(t, st.TransitionJob(ctx, job.ID, from, to, ""))
		from = to
	}
	require.NoError(t, st.SaveValidationReport(ctx, job.ID, model.ValidationReport{
		Passed: true, Errors: []model.Issue{}, Warnings: []model.Issue{{Code: "tag_concentration", Message: "x"}},
	}))
	require.NoError(t, st.SaveCrossReferences(ctx, job.ID, []model.CrossReferenceResult{
		{EntityID: "v1", Relationship: model.RelationshipAgree, MergedTags: []string{"authentic"}, MergedConfidence: 0.9},
		{EntityID: "v2", Relationship: model.RelationshipConflict, MergedTags: []string{"touristy"}, MergedConfidence: 0.4, NeedsReview: true},
	}))
	return job
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(newTestStore(t), prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_StoreDown(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListJobs(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "lisbon")
	seedJob(t, st, "porto")
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/jobs?place=lisbon")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []model.ResearchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "lisbon", jobs[0].PlaceID)
	assert.Equal(t, model.JobStateComplete, jobs[0].State)
}

func TestListJobs_Empty(t *testing.T) {
	s := New(newTestStore(t), prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListJobs_BadParams(t *testing.T) {
	s := New(newTestStore(t), prometheus.NewRegistry(), nil)

	for _, target := range []string{"/jobs?state=DONE", "/jobs?limit=-1", "/jobs?offset=abc"} {
		rec := serve(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetJob(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st, "lisbon")
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/jobs/"+job.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		ID          string                  `json:"id"`
		State       model.JobState          `json:"state"`
		Transitions []model.JobTransition   `json:"transitions"`
		Validation  *model.ValidationReport `json:"validation"`
		Synthesis   *model.CitySynthesis    `json:"city_synthesis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStateComplete, got.State)
	assert.Len(t, got.Transitions, 7)
	require.NotNil(t, got.Validation)
	assert.True(t, got.Validation.Passed)
	assert.Nil(t, got.Synthesis, "missing stage output is omitted")
}

func TestGetJob_NotFound(t *testing.T) {
	s := New(newTestStore(t), prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/jobs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job not found")
}

func TestListCrossReferences(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st, "lisbon")
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/jobs/"+job.ID+"/cross-references")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []model.CrossReferenceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].EntityID)
}

func TestListConflicts(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st, "lisbon")
	seedJob(t, st, "porto")
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/conflicts")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []model.CrossReferenceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
	for _, r := range all {
		assert.Equal(t, model.RelationshipConflict, r.Relationship)
	}

	rec = serve(t, s, "/conflicts?job="+job.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var one []model.CrossReferenceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Len(t, one, 1)
	assert.Equal(t, job.ID, one[0].JobID)

	rec = serve(t, s, "/conflicts?unreviewed=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "lisbon")
	s := New(st, prometheus.NewRegistry(), nil)

	rec := serve(t, s, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByState[model.JobStateComplete])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.JobStarted(model.TriggerManual)
	s := New(newTestStore(t), reg, nil)

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `venue_research_jobs_started_total{trigger="manual"} 1`))
}

func TestCORSPreflight(t *testing.T) {
	s := New(newTestStore(t), prometheus.NewRegistry(), []string{"https://admin.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
