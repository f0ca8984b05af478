package content

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-research/internal/model"
)

var lisbon = model.Place{ID: "lisbon", Name: "Lisbon"}

func columns() []string {
	return []string{
		"id", "place_id", "kind", "source", "title", "body", "format", "url",
		"verified_local", "engagement", "approval_ratio", "comment_count", "published_at",
	}
}

func TestPostgresRead(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	published := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM content_records").
		WithArgs("lisbon", "community").
		WillReturnRows(pgxmock.NewRows(columns()).
			AddRow("c1", "lisbon", "community", "forum", "Best tascas", "Try Ramiro", "text", "",
				true, 42, 0.9, 7, published))

	recs, err := NewPostgres(mock).Read(context.Background(), lisbon, model.SourceCommunity)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SourceCommunity, recs[0].Kind)
	assert.True(t, recs[0].VerifiedLocal)
	assert.Equal(t, 42, recs[0].Engagement)
	assert.Equal(t, published, recs[0].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRead_EmptyIsNotError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM content_records").
		WithArgs("lisbon", "long_form").
		WillReturnRows(pgxmock.NewRows(columns()))

	recs, err := NewPostgres(mock).Read(context.Background(), lisbon, model.SourceLongForm)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestPostgresRead_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgres(mock).Read(context.Background(), lisbon, model.SourceKind("podcast"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source kind")

	mock.ExpectQuery("FROM content_records").WillReturnError(fmt.Errorf("timeout"))
	_, err = NewPostgres(mock).Read(context.Background(), lisbon, model.SourceStructural)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content: read structural for lisbon")
}

func TestStatic(t *testing.T) {
	s := Static{"lisbon": {
		{ID: "a", Kind: model.SourceCommunity},
		{ID: "b", Kind: model.SourceLongForm},
	}}
	recs, err := s.Read(context.Background(), lisbon, model.SourceLongForm)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)

	recs, err = s.Read(context.Background(), model.Place{ID: "porto"}, model.SourceCommunity)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
