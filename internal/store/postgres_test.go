package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-research/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresFromPool(mock)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), "lisbon", "manual", true, "QUEUED", fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), "lisbon", model.TriggerManual, true)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStateQueued, job.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Commits(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research_jobs SET state = \$1`).
		WithArgs("PASS_A", "", fixedNow, pgxmock.AnyArg(), "job-1", "ASSEMBLING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO job_transitions`).
		WithArgs("job-1", "ASSEMBLING", "PASS_A", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.TransitionJob(context.Background(), "job-1", model.JobStateAssembling, model.JobStatePassA, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research_jobs SET state = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.TransitionJob(context.Background(), "job-1", model.JobStateAssembling, model.JobStatePassA, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.TransitionJob(context.Background(), "job-1", model.JobStateComplete, model.JobStateError, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordUsage_Terminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE research_jobs SET`).
		WithArgs(1000, 200, 0, 0, 0.006, fixedNow, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RecordUsage(context.Background(), "job-1", model.TokenUsage{InputTokens: 1000, OutputTokens: 200, Cost: 0.006})
	assert.True(t, errors.Is(err, ErrStaleState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM research_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobRow() *pgxmock.Rows {
	finished := fixedNow.Add(time.Minute)
	return pgxmock.NewRows([]string{"id", "place_id", "trigger_kind", "write_back", "state", "input_tokens",
		"output_tokens", "cache_creation_tokens", "cache_read_tokens", "cost_usd", "error",
		"created_at", "updated_at", "finished_at"}).
		AddRow("job-1", "lisbon", "scheduled", false, "COMPLETE", 1200, 300, 0, 100, 0.0081, "",
			fixedNow, finished, &finished)
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM research_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow())

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.TriggerScheduled, job.Trigger)
	assert.Equal(t, model.JobStateComplete, job.State)
	assert.Equal(t, 1200, job.Usage.InputTokens)
	assert.Equal(t, 100, job.Usage.CacheReadTokens)
	assert.InDelta(t, 0.0081, job.Usage.Cost, 1e-9)
	require.NotNil(t, job.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE place_id = \$1 AND state = \$2 ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("lisbon", "COMPLETE", 100, 0).
		WillReturnRows(jobRow())

	jobs, err := s.ListJobs(context.Background(), JobFilter{PlaceID: "lisbon", State: model.JobStateComplete})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery(`WHERE created_at >= \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs(cutoff, 500, 0).
		WillReturnRows(jobRow())

	jobs, err := s.ListJobs(context.Background(), JobFilter{CreatedAfter: cutoff, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SumCostSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := StartOfDayUTC(fixedNow)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_usd\), 0\) FROM research_jobs WHERE created_at >= \$1`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(12.5))

	total, err := s.SumCostSince(context.Background(), since)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, total, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentTerminalStates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state FROM research_jobs`).
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).
			AddRow("ERROR").AddRow("ERROR").AddRow("COMPLETE"))

	states, err := s.RecentTerminalStates(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []model.JobState{model.JobStateError, model.JobStateError, model.JobStateComplete}, states)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCrossReferences(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_cross_references"}, []string{"job_id", "entity_id",
		"relationship", "tag_agreement", "score_delta", "merged_tourist_score", "merged_tags",
		"merged_confidence", "existing_confidence", "needs_review", "applied", "created_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "cross_references"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveCrossReferences(context.Background(), "job-1", []model.CrossReferenceResult{
		{EntityID: "v1", Relationship: model.RelationshipAgree},
		{EntityID: "v2", Relationship: model.RelationshipConflict, NeedsReview: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.MarkApplied(context.Background(), "job-1", nil))

	mock.ExpectExec(`UPDATE cross_references SET applied = true`).
		WithArgs("job-1", []string{"v1", "v2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.MarkApplied(context.Background(), "job-1", []string{"v1", "v2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCitySynthesis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM city_syntheses WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCitySynthesis(context.Background(), "job-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetValidationReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM validation_reports WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"passed":false,"errors":[{"code":"out_of_range","message":"x"}],"warnings":[]}`)))

	r, err := s.GetValidationReport(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, r.Passed)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "out_of_range", r.Errors[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS research_jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
