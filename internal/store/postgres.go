package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/db"
	"github.com/sells-group/venue-research/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Pool returns the underlying database pool so the graph and content
// readers can share it when they live in the same database.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id              TEXT NOT NULL,
	trigger_kind          TEXT NOT NULL,
	write_back            BOOLEAN NOT NULL DEFAULT false,
	state                 TEXT NOT NULL DEFAULT 'QUEUED',
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd              DOUBLE PRECISION NOT NULL DEFAULT 0,
	error                 TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at           TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_transitions (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES research_jobs(id),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_bundles (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS city_syntheses (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS venue_signals (
	job_id   TEXT NOT NULL REFERENCES research_jobs(id),
	raw_name TEXT NOT NULL,
	payload  JSONB NOT NULL,
	PRIMARY KEY (job_id, raw_name)
);

CREATE TABLE IF NOT EXISTS validation_reports (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	passed  BOOLEAN NOT NULL,
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS venue_resolutions (
	job_id          TEXT NOT NULL REFERENCES research_jobs(id),
	raw_name        TEXT NOT NULL,
	entity_id       TEXT,
	match_type      TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ,
	payload         JSONB NOT NULL,
	PRIMARY KEY (job_id, raw_name)
);

CREATE TABLE IF NOT EXISTS cross_references (
	job_id               TEXT NOT NULL REFERENCES research_jobs(id),
	entity_id            TEXT NOT NULL,
	relationship         TEXT NOT NULL,
	tag_agreement        DOUBLE PRECISION NOT NULL,
	score_delta          DOUBLE PRECISION,
	merged_tourist_score DOUBLE PRECISION,
	merged_tags          JSONB NOT NULL DEFAULT '[]',
	merged_confidence    DOUBLE PRECISION NOT NULL,
	existing_confidence  DOUBLE PRECISION NOT NULL,
	needs_review         BOOLEAN NOT NULL DEFAULT false,
	applied              BOOLEAN NOT NULL DEFAULT false,
	reviewed_by          TEXT,
	reviewed_at          TIMESTAMPTZ,
	review_decision      TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_place ON research_jobs(place_id, state);
CREATE INDEX IF NOT EXISTS idx_research_jobs_created ON research_jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_transitions_job ON job_transitions(job_id);
CREATE INDEX IF NOT EXISTS idx_cross_references_relationship ON cross_references(relationship);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, placeID string, trigger model.TriggerKind, writeBack bool) (*model.ResearchJob, error) {
	if !trigger.Valid() {
		return nil, eris.Errorf("postgres: unknown trigger %q", trigger)
	}
	id := uuid.New().String()
	now := s.now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_jobs (id, place_id, trigger_kind, write_back, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, placeID, string(trigger), writeBack, string(model.JobStateQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &model.ResearchJob{
		ID:        id,
		PlaceID:   placeID,
		Trigger:   trigger,
		WriteBack: writeBack,
		State:     model.JobStateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobState, errMsg string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	now := s.now().UTC()
	var finished *time.Time
	if to.Terminal() {
		finished = &now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE research_jobs SET state = $1, error = $2, updated_at = $3, finished_at = COALESCE($4::timestamptz, finished_at)
		 WHERE id = $5 AND state = $6`,
		string(to), TruncateError(errMsg), now, finished, jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleState, "postgres: transition job %s %s -> %s", jobID, from, to)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO job_transitions (job_id, from_state, to_state, at) VALUES ($1, $2, $3, $4)`,
		jobID, string(from), string(to), now,
	); err != nil {
		return eris.Wrapf(err, "postgres: record transition %s", jobID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) RecordUsage(ctx context.Context, jobID string, u model.TokenUsage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET
			input_tokens = input_tokens + $1,
			output_tokens = output_tokens + $2,
			cache_creation_tokens = cache_creation_tokens + $3,
			cache_read_tokens = cache_read_tokens + $4,
			cost_usd = cost_usd + $5,
			updated_at = $6
		 WHERE id = $7 AND state NOT IN ('COMPLETE', 'VALIDATION_FAILED', 'ERROR')`,
		u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens, u.Cost, s.now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record usage %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleState, "postgres: record usage %s", jobID)
	}
	return nil
}

const pgJobColumns = `id, place_id, trigger_kind, write_back, state, input_tokens, output_tokens,
	cache_creation_tokens, cache_read_tokens, cost_usd, error, created_at, updated_at, finished_at`

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM research_jobs WHERE id = $1`, jobID)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM research_jobs`
	var where []string
	var args []any
	if filter.PlaceID != "" {
		args = append(args, filter.PlaceID)
		where = append(where, "place_id = $"+strconv.Itoa(len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, "state = $"+strconv.Itoa(len(args)))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(filter.Limit, 100), filter.Offset)
	query += " ORDER BY created_at DESC, id LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) ListTransitions(ctx context.Context, jobID string) ([]model.JobTransition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, from_state, to_state, at FROM job_transitions WHERE job_id = $1 ORDER BY at, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list transitions %s", jobID)
	}
	defer rows.Close()

	var out []model.JobTransition
	for rows.Next() {
		var t model.JobTransition
		var from, to string
		if err := rows.Scan(&t.JobID, &from, &to, &t.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		t.From, t.To = model.JobState(from), model.JobState(to)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate transitions")
}

func (s *PostgresStore) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM research_jobs WHERE created_at >= $1`, since.UTC(),
	).Scan(&total)
	return total, eris.Wrap(err, "postgres: sum cost")
}

func (s *PostgresStore) LastCompletedAt(ctx context.Context, placeID string) (*time.Time, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(finished_at) FROM research_jobs WHERE place_id = $1 AND state = $2`,
		placeID, string(model.JobStateComplete),
	).Scan(&at)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last completed %s", placeID)
	}
	return at, nil
}

func (s *PostgresStore) RecentTerminalStates(ctx context.Context, n int) ([]model.JobState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM research_jobs
		 WHERE state IN ('COMPLETE', 'VALIDATION_FAILED', 'ERROR')
		 ORDER BY finished_at DESC NULLS LAST, created_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent terminal states")
	}
	defer rows.Close()

	var out []model.JobState
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		out = append(out, model.JobState(st))
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate states")
}

func (s *PostgresStore) SaveBundle(ctx context.Context, jobID string, b *bundle.Bundle) error {
	return s.savePayload(ctx, "job_bundles", jobID, b)
}

func (s *PostgresStore) SaveCitySynthesis(ctx context.Context, jobID string, c model.CitySynthesis) error {
	c.JobID = jobID
	return s.savePayload(ctx, "city_syntheses", jobID, c)
}

func (s *PostgresStore) savePayload(ctx context.Context, table, jobID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", table)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (job_id, payload) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload`,
		jobID, data,
	)
	return eris.Wrapf(err, "postgres: save %s for %s", table, jobID)
}

func (s *PostgresStore) SaveVenueSignals(ctx context.Context, jobID string, signals []model.VenueSignal) error {
	if len(signals) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(signals))
	for _, sig := range signals {
		data, err := json.Marshal(sig)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal venue signal")
		}
		rows = append(rows, []any{jobID, sig.Name, data})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "venue_signals",
		Columns:      []string{"job_id", "raw_name", "payload"},
		ConflictKeys: []string{"job_id", "raw_name"},
	}, rows)
	return eris.Wrapf(err, "postgres: save venue signals %s", jobID)
}

func (s *PostgresStore) SaveValidationReport(ctx context.Context, jobID string, r model.ValidationReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_reports (job_id, passed, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO UPDATE SET passed = EXCLUDED.passed, payload = EXCLUDED.payload`,
		jobID, r.Passed, data,
	)
	return eris.Wrapf(err, "postgres: save validation report %s", jobID)
}

func (s *PostgresStore) SaveResolutions(ctx context.Context, jobID string, resolved []model.ResolvedVenueSignal, unresolved []model.UnresolvedSignal) error {
	rows := make([][]any, 0, len(resolved)+len(unresolved))
	for _, r := range resolved {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal resolution")
		}
		entityID := r.EntityID
		rows = append(rows, []any{jobID, r.Signal.Name, &entityID, string(r.MatchType), r.Confidence, 0, (*time.Time)(nil), data})
	}
	for _, u := range unresolved {
		u.JobID = jobID
		data, err := json.Marshal(u)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal unresolved")
		}
		at := u.LastAttemptAt.UTC()
		rows = append(rows, []any{jobID, u.RawName, (*string)(nil), string(model.MatchNone), 0.0, u.RetryCount, &at, data})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "venue_resolutions",
		Columns: []string{"job_id", "raw_name", "entity_id", "match_type", "confidence",
			"retry_count", "last_attempt_at", "payload"},
		ConflictKeys: []string{"job_id", "raw_name"},
	}, rows)
	return eris.Wrapf(err, "postgres: save resolutions %s", jobID)
}

func (s *PostgresStore) SaveCrossReferences(ctx context.Context, jobID string, results []model.CrossReferenceResult) error {
	if len(results) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		tags, err := json.Marshal(nonNilTags(r.MergedTags))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal merged tags")
		}
		rows = append(rows, []any{jobID, r.EntityID, string(r.Relationship), r.TagAgreement, r.ScoreDelta,
			r.MergedTouristScore, tags, r.MergedConfidence, r.ExistingConfidence, r.NeedsReview, r.Applied, now})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "cross_references",
		Columns: []string{"job_id", "entity_id", "relationship", "tag_agreement", "score_delta",
			"merged_tourist_score", "merged_tags", "merged_confidence", "existing_confidence",
			"needs_review", "applied", "created_at"},
		ConflictKeys: []string{"job_id", "entity_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save cross references %s", jobID)
}

func (s *PostgresStore) MarkApplied(ctx context.Context, jobID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE cross_references SET applied = true WHERE job_id = $1 AND entity_id = ANY($2)`,
		jobID, entityIDs,
	)
	return eris.Wrapf(err, "postgres: mark applied %s", jobID)
}

func (s *PostgresStore) GetCitySynthesis(ctx context.Context, jobID string) (*model.CitySynthesis, error) {
	var c model.CitySynthesis
	if err := s.loadPayload(ctx, "city_syntheses", jobID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetValidationReport(ctx context.Context, jobID string) (*model.ValidationReport, error) {
	var r model.ValidationReport
	if err := s.loadPayload(ctx, "validation_reports", jobID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) loadPayload(ctx context.Context, table, jobID string, v any) error {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM `+table+` WHERE job_id = $1`, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: %s for %s", table, jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load %s for %s", table, jobID)
	}
	return eris.Wrapf(json.Unmarshal(payload, v), "postgres: unmarshal %s", table)
}

const pgXrefColumns = `job_id, entity_id, relationship, tag_agreement, score_delta, merged_tourist_score,
	merged_tags, merged_confidence, existing_confidence, needs_review, applied,
	reviewed_by, reviewed_at, review_decision, created_at`

func (s *PostgresStore) ListCrossReferences(ctx context.Context, jobID string) ([]model.CrossReferenceResult, error) {
	return s.queryXrefs(ctx,
		`SELECT `+pgXrefColumns+` FROM cross_references WHERE job_id = $1 ORDER BY entity_id`, jobID)
}

func (s *PostgresStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.CrossReferenceResult, error) {
	query := `SELECT ` + pgXrefColumns + ` FROM cross_references WHERE relationship = $1`
	args := []any{string(model.RelationshipConflict)}
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		query += " AND job_id = $" + strconv.Itoa(len(args))
	}
	if filter.Unreviewed {
		query += " AND review_decision IS NULL"
	}
	args = append(args, limitOrDefault(filter.Limit, 100))
	query += " ORDER BY created_at DESC, entity_id LIMIT $" + strconv.Itoa(len(args))
	return s.queryXrefs(ctx, query, args...)
}

func (s *PostgresStore) queryXrefs(ctx context.Context, query string, args ...any) ([]model.CrossReferenceResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cross references")
	}
	defer rows.Close()

	var out []model.CrossReferenceResult
	for rows.Next() {
		var r model.CrossReferenceResult
		var rel string
		var tags []byte
		var reviewedBy, decision *string
		if err := rows.Scan(&r.JobID, &r.EntityID, &rel, &r.TagAgreement, &r.ScoreDelta, &r.MergedTouristScore,
			&tags, &r.MergedConfidence, &r.ExistingConfidence, &r.NeedsReview, &r.Applied,
			&reviewedBy, &r.ReviewedAt, &decision, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cross reference")
		}
		r.Relationship = model.Relationship(rel)
		if err := json.Unmarshal(tags, &r.MergedTags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal merged tags")
		}
		if reviewedBy != nil {
			r.ReviewedBy = *reviewedBy
		}
		if decision != nil {
			r.ReviewDecision = *decision
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate cross references")
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*JobStats, error) {
	st := &JobStats{ByState: make(map[model.JobState]int)}
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM research_jobs GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job stats")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count, in, out int
		var cost float64
		if err := rows.Scan(&state, &count, &in, &out, &cost); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.ByState[model.JobState(state)] = count
		st.Total += count
		st.InputTokens += in
		st.OutputTokens += out
		st.TotalCost += cost
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate stats")
	}

	st.CostToday, err = s.SumCostSince(ctx, StartOfDayUTC(now))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func scanPostgresJob(row pgx.Row) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var trigger, state string
	err := row.Scan(&j.ID, &j.PlaceID, &trigger, &j.WriteBack, &state,
		&j.Usage.InputTokens, &j.Usage.OutputTokens, &j.Usage.CacheCreationTokens, &j.Usage.CacheReadTokens,
		&j.Usage.Cost, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.Trigger, j.State = model.TriggerKind(trigger), model.JobState(state)
	return &j, nil
}
