package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps guarded transitions serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Timestamps are stored as fixed-width UTC text so range filters compare
// correctly as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id                    TEXT PRIMARY KEY,
	place_id              TEXT NOT NULL,
	trigger_kind          TEXT NOT NULL,
	write_back            INTEGER NOT NULL DEFAULT 0,
	state                 TEXT NOT NULL DEFAULT 'QUEUED',
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd              REAL NOT NULL DEFAULT 0,
	error                 TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	finished_at           TEXT
);

CREATE TABLE IF NOT EXISTS job_transitions (
	job_id     TEXT NOT NULL REFERENCES research_jobs(id),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_bundles (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS city_syntheses (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS venue_signals (
	job_id   TEXT NOT NULL REFERENCES research_jobs(id),
	raw_name TEXT NOT NULL,
	payload  TEXT NOT NULL,
	PRIMARY KEY (job_id, raw_name)
);

CREATE TABLE IF NOT EXISTS validation_reports (
	job_id  TEXT PRIMARY KEY REFERENCES research_jobs(id),
	passed  INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS venue_resolutions (
	job_id          TEXT NOT NULL REFERENCES research_jobs(id),
	raw_name        TEXT NOT NULL,
	entity_id       TEXT,
	match_type      TEXT NOT NULL,
	confidence      REAL NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	payload         TEXT NOT NULL,
	PRIMARY KEY (job_id, raw_name)
);

CREATE TABLE IF NOT EXISTS cross_references (
	job_id               TEXT NOT NULL REFERENCES research_jobs(id),
	entity_id            TEXT NOT NULL,
	relationship         TEXT NOT NULL,
	tag_agreement        REAL NOT NULL,
	score_delta          REAL,
	merged_tourist_score REAL,
	merged_tags          TEXT NOT NULL,
	merged_confidence    REAL NOT NULL,
	existing_confidence  REAL NOT NULL,
	needs_review         INTEGER NOT NULL DEFAULT 0,
	applied              INTEGER NOT NULL DEFAULT 0,
	reviewed_by          TEXT,
	reviewed_at          TEXT,
	review_decision      TEXT,
	created_at           TEXT NOT NULL,
	PRIMARY KEY (job_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_place ON research_jobs(place_id, state);
CREATE INDEX IF NOT EXISTS idx_research_jobs_created ON research_jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_transitions_job ON job_transitions(job_id);
CREATE INDEX IF NOT EXISTS idx_cross_references_relationship ON cross_references(relationship);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, placeID string, trigger model.TriggerKind, writeBack bool) (*model.ResearchJob, error) {
	if !trigger.Valid() {
		return nil, eris.Errorf("sqlite: unknown trigger %q", trigger)
	}
	id := uuid.New().String()
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_jobs (id, place_id, trigger_kind, write_back, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, placeID, string(trigger), writeBack, string(model.JobStateQueued), ts(now), ts(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobState, errMsg string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	now := ts(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback() //nolint:errcheck

	var finished any
	if to.Terminal() {
		finished = now
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE research_jobs SET state = ?, error = ?, updated_at = ?, finished_at = COALESCE(?, finished_at)
		 WHERE id = ? AND state = ?`,
		string(to), TruncateError(errMsg), now, finished, jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStaleState, "sqlite: transition job %s %s -> %s", jobID, from, to)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_transitions (job_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		jobID, string(from), string(to), now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: record transition %s", jobID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, jobID string, u model.TokenUsage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cache_creation_tokens = cache_creation_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?,
			cost_usd = cost_usd + ?,
			updated_at = ?
		 WHERE id = ? AND state NOT IN ('COMPLETE', 'VALIDATION_FAILED', 'ERROR')`,
		u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens, u.Cost, ts(s.now()), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record usage %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStaleState, "sqlite: record usage %s", jobID)
	}
	return nil
}

const sqliteJobColumns = `id, place_id, trigger_kind, write_back, state, input_tokens, output_tokens,
	cache_creation_tokens, cache_read_tokens, cost_usd, error, created_at, updated_at, finished_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM research_jobs WHERE id = ?`, jobID)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM research_jobs`
	var where []string
	var args []any
	if filter.PlaceID != "" {
		where = append(where, "place_id = ?")
		args = append(args, filter.PlaceID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, ts(filter.CreatedAfter))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit, 100), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, jobID string) ([]model.JobTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, from_state, to_state, at FROM job_transitions WHERE job_id = ? ORDER BY at, rowid`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list transitions %s", jobID)
	}
	defer rows.Close()

	var out []model.JobTransition
	for rows.Next() {
		var t model.JobTransition
		var at string
		if err := rows.Scan(&t.JobID, &t.From, &t.To, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		if t.At, err = parseTS(at); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate transitions")
}

func (s *SQLiteStore) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM research_jobs WHERE created_at >= ?`, ts(since),
	).Scan(&total)
	return total, eris.Wrap(err, "sqlite: sum cost")
}

func (s *SQLiteStore) LastCompletedAt(ctx context.Context, placeID string) (*time.Time, error) {
	var at sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(finished_at) FROM research_jobs WHERE place_id = ? AND state = ?`,
		placeID, string(model.JobStateComplete),
	).Scan(&at)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last completed %s", placeID)
	}
	if !at.Valid {
		return nil, nil
	}
	t, err := parseTS(at.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) RecentTerminalStates(ctx context.Context, n int) ([]model.JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM research_jobs
		 WHERE state IN ('COMPLETE', 'VALIDATION_FAILED', 'ERROR')
		 ORDER BY finished_at DESC, created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent terminal states")
	}
	defer rows.Close()

	var out []model.JobState
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		out = append(out, model.JobState(st))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate states")
}

func (s *SQLiteStore) SaveBundle(ctx context.Context, jobID string, b *bundle.Bundle) error {
	return s.savePayload(ctx, "job_bundles", jobID, b)
}

func (s *SQLiteStore) SaveCitySynthesis(ctx context.Context, jobID string, c model.CitySynthesis) error {
	c.JobID = jobID
	return s.savePayload(ctx, "city_syntheses", jobID, c)
}

// savePayload writes a one-per-job JSON document. table is never user input.
func (s *SQLiteStore) savePayload(ctx context.Context, table, jobID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", table)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (job_id, payload) VALUES (?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET payload = excluded.payload`,
		jobID, string(data),
	)
	return eris.Wrapf(err, "sqlite: save %s for %s", table, jobID)
}

func (s *SQLiteStore) SaveVenueSignals(ctx context.Context, jobID string, signals []model.VenueSignal) error {
	return s.inTx(ctx, "save venue signals", func(tx *sql.Tx) error {
		for _, sig := range signals {
			data, err := json.Marshal(sig)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal venue signal")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO venue_signals (job_id, raw_name, payload) VALUES (?, ?, ?)
				 ON CONFLICT (job_id, raw_name) DO UPDATE SET payload = excluded.payload`,
				jobID, sig.Name, string(data),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert venue signal %s", sig.Name)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveValidationReport(ctx context.Context, jobID string, r model.ValidationReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_reports (job_id, passed, payload) VALUES (?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET passed = excluded.passed, payload = excluded.payload`,
		jobID, r.Passed, string(data),
	)
	return eris.Wrapf(err, "sqlite: save validation report %s", jobID)
}

func (s *SQLiteStore) SaveResolutions(ctx context.Context, jobID string, resolved []model.ResolvedVenueSignal, unresolved []model.UnresolvedSignal) error {
	const q = `INSERT INTO venue_resolutions
		(job_id, raw_name, entity_id, match_type, confidence, retry_count, last_attempt_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, raw_name) DO UPDATE SET
			entity_id = excluded.entity_id, match_type = excluded.match_type,
			confidence = excluded.confidence, retry_count = excluded.retry_count,
			last_attempt_at = excluded.last_attempt_at, payload = excluded.payload`

	return s.inTx(ctx, "save resolutions", func(tx *sql.Tx) error {
		for _, r := range resolved {
			data, err := json.Marshal(r)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal resolution")
			}
			if _, err := tx.ExecContext(ctx, q,
				jobID, r.Signal.Name, r.EntityID, string(r.MatchType), r.Confidence, 0, nil, string(data),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert resolution %s", r.Signal.Name)
			}
		}
		for _, u := range unresolved {
			u.JobID = jobID
			data, err := json.Marshal(u)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal unresolved")
			}
			if _, err := tx.ExecContext(ctx, q,
				jobID, u.RawName, nil, string(model.MatchNone), 0.0, u.RetryCount, ts(u.LastAttemptAt), string(data),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert unresolved %s", u.RawName)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveCrossReferences(ctx context.Context, jobID string, results []model.CrossReferenceResult) error {
	now := ts(s.now())
	return s.inTx(ctx, "save cross references", func(tx *sql.Tx) error {
		for _, r := range results {
			tags, err := json.Marshal(nonNilTags(r.MergedTags))
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal merged tags")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cross_references
				 (job_id, entity_id, relationship, tag_agreement, score_delta, merged_tourist_score,
				  merged_tags, merged_confidence, existing_confidence, needs_review, applied, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (job_id, entity_id) DO UPDATE SET
					relationship = excluded.relationship, tag_agreement = excluded.tag_agreement,
					score_delta = excluded.score_delta, merged_tourist_score = excluded.merged_tourist_score,
					merged_tags = excluded.merged_tags, merged_confidence = excluded.merged_confidence,
					existing_confidence = excluded.existing_confidence, needs_review = excluded.needs_review,
					applied = excluded.applied`,
				jobID, r.EntityID, string(r.Relationship), r.TagAgreement, r.ScoreDelta, r.MergedTouristScore,
				string(tags), r.MergedConfidence, r.ExistingConfidence, r.NeedsReview, r.Applied, now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert cross reference %s", r.EntityID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) MarkApplied(ctx context.Context, jobID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	return s.inTx(ctx, "mark applied", func(tx *sql.Tx) error {
		for _, id := range entityIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE cross_references SET applied = 1 WHERE job_id = ? AND entity_id = ?`, jobID, id,
			); err != nil {
				return eris.Wrapf(err, "sqlite: mark applied %s", id)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetCitySynthesis(ctx context.Context, jobID string) (*model.CitySynthesis, error) {
	var c model.CitySynthesis
	if err := s.loadPayload(ctx, "city_syntheses", jobID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) GetValidationReport(ctx context.Context, jobID string) (*model.ValidationReport, error) {
	var r model.ValidationReport
	if err := s.loadPayload(ctx, "validation_reports", jobID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) loadPayload(ctx context.Context, table, jobID string, v any) error {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: %s for %s", table, jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load %s for %s", table, jobID)
	}
	return eris.Wrapf(json.Unmarshal([]byte(payload), v), "sqlite: unmarshal %s", table)
}

const sqliteXrefColumns = `job_id, entity_id, relationship, tag_agreement, score_delta, merged_tourist_score,
	merged_tags, merged_confidence, existing_confidence, needs_review, applied,
	reviewed_by, reviewed_at, review_decision, created_at`

func (s *SQLiteStore) ListCrossReferences(ctx context.Context, jobID string) ([]model.CrossReferenceResult, error) {
	return s.queryXrefs(ctx,
		`SELECT `+sqliteXrefColumns+` FROM cross_references WHERE job_id = ? ORDER BY entity_id`, jobID)
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.CrossReferenceResult, error) {
	query := `SELECT ` + sqliteXrefColumns + ` FROM cross_references WHERE relationship = ?`
	args := []any{string(model.RelationshipConflict)}
	if filter.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, filter.JobID)
	}
	if filter.Unreviewed {
		query += " AND review_decision IS NULL"
	}
	query += " ORDER BY created_at DESC, entity_id LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit, 100))
	return s.queryXrefs(ctx, query, args...)
}

func (s *SQLiteStore) queryXrefs(ctx context.Context, query string, args ...any) ([]model.CrossReferenceResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cross references")
	}
	defer rows.Close()

	var out []model.CrossReferenceResult
	for rows.Next() {
		var r model.CrossReferenceResult
		var tags, createdAt string
		var delta, merged sql.NullFloat64
		var reviewedBy, reviewedAt, decision sql.NullString
		if err := rows.Scan(&r.JobID, &r.EntityID, &r.Relationship, &r.TagAgreement, &delta, &merged,
			&tags, &r.MergedConfidence, &r.ExistingConfidence, &r.NeedsReview, &r.Applied,
			&reviewedBy, &reviewedAt, &decision, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cross reference")
		}
		if err := json.Unmarshal([]byte(tags), &r.MergedTags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal merged tags")
		}
		if delta.Valid {
			r.ScoreDelta = &delta.Float64
		}
		if merged.Valid {
			r.MergedTouristScore = &merged.Float64
		}
		r.ReviewedBy = reviewedBy.String
		r.ReviewDecision = decision.String
		if reviewedAt.Valid {
			t, err := parseTS(reviewedAt.String)
			if err != nil {
				return nil, err
			}
			r.ReviewedAt = &t
		}
		if r.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate cross references")
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*JobStats, error) {
	st := &JobStats{ByState: make(map[model.JobState]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM research_jobs GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job stats")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count, in, out int
		var cost float64
		if err := rows.Scan(&state, &count, &in, &out, &cost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.ByState[model.JobState(state)] = count
		st.Total += count
		st.InputTokens += in
		st.OutputTokens += out
		st.TotalCost += cost
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate stats")
	}

	st.CostToday, err = s.SumCostSince(ctx, StartOfDayUTC(now))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", op)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", op)
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var createdAt, updatedAt string
	var finishedAt sql.NullString

	err := row.Scan(&j.ID, &j.PlaceID, &j.Trigger, &j.WriteBack, &j.State,
		&j.Usage.InputTokens, &j.Usage.OutputTokens, &j.Usage.CacheCreationTokens, &j.Usage.CacheReadTokens,
		&j.Usage.Cost, &j.Error, &createdAt, &updatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if j.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTS(finishedAt.String)
		if err != nil {
			return nil, err
		}
		j.FinishedAt = &t
	}
	return &j, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
