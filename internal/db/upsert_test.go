package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "venue_research_signals",
		Columns:      []string{"entity_id", "tourist_score"},
		ConflictKeys: []string{"entity_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "venue_research_signals",
		ConflictKeys: []string{"entity_id"},
	}, [][]any{{"v1", 0.5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "venue_research_signals",
		Columns: []string{"entity_id", "tourist_score"},
	}, [][]any{{"v1", 0.5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_venue_research_signals"}, []string{"entity_id", "tourist_score"}).
		WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "venue_research_signals",
		Columns:      []string{"entity_id", "tourist_score"},
		ConflictKeys: []string{"entity_id"},
	}, [][]any{{"v1", 0.5}, {"v2", 0.7}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_RollsBackOnCopyError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_venue_research_signals"}, []string{"entity_id"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "venue_research_signals",
		Columns:      []string{"entity_id"},
		ConflictKeys: []string{"entity_id"},
		UpdateCols:   []string{},
	}, [][]any{{"v1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL_DefaultUpdateCols(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "graph.venue_research_signals",
		Columns:      []string{"entity_id", "tourist_score"},
		ConflictKeys: []string{"entity_id"},
	}
	got := upsertSQL(cfg, TempTableName(cfg.Table), []string{"tourist_score"})
	assert.Equal(t,
		`INSERT INTO "graph"."venue_research_signals" ("entity_id", "tourist_score") SELECT "entity_id", "tourist_score" FROM "_tmp_upsert_graph_venue_research_signals" ON CONFLICT ("entity_id") DO UPDATE SET "tourist_score" = EXCLUDED."tourist_score"`,
		got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"graph.venues", `"graph"."venues"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "job_transitions",
		Columns:      []string{"job_id", "seq"},
		ConflictKeys: []string{"job_id", "seq"},
	}
	got := upsertSQL(cfg, TempTableName(cfg.Table), cfg.updateColumns())
	assert.Equal(t,
		`INSERT INTO "job_transitions" ("job_id", "seq") SELECT "job_id", "seq" FROM "_tmp_upsert_job_transitions" ON CONFLICT ("job_id", "seq") DO NOTHING`,
		got)
}

func TestUpdateColumns_DefaultsToNonKeys(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"entity_id", "tourist_score", "tags"},
		ConflictKeys: []string{"entity_id"},
	}
	assert.Equal(t, []string{"tourist_score", "tags"}, cfg.updateColumns())

	cfg.UpdateCols = []string{}
	assert.Empty(t, cfg.updateColumns())
}
