// Package content reads raw documents about a place from the content store.
package content

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/db"
	"github.com/sells-group/venue-research/internal/model"
)

// Reader returns the records of one kind for a place. A place with no
// content yields an empty slice, not an error.
type Reader interface {
	Read(ctx context.Context, place model.Place, kind model.SourceKind) ([]model.ContentRecord, error)
}

// Postgres reads from the content_records table.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps a pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const readSQL = `
SELECT id, place_id, kind, source, COALESCE(title, ''), body, COALESCE(format, 'text'),
       COALESCE(url, ''), verified_local, engagement, approval_ratio, comment_count, published_at
FROM content_records
WHERE place_id = $1 AND kind = $2
ORDER BY published_at DESC, id`

// Read implements Reader.
func (p *Postgres) Read(ctx context.Context, place model.Place, kind model.SourceKind) ([]model.ContentRecord, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("content: unknown source kind %q", kind)
	}
	rows, err := p.pool.Query(ctx, readSQL, place.ID, string(kind))
	if err != nil {
		return nil, eris.Wrapf(err, "content: read %s for %s", kind, place.ID)
	}
	defer rows.Close()

	out := []model.ContentRecord{}
	for rows.Next() {
		var r model.ContentRecord
		var k string
		if err := rows.Scan(&r.ID, &r.PlaceID, &k, &r.Source, &r.Title, &r.Body, &r.Format,
			&r.URL, &r.VerifiedLocal, &r.Engagement, &r.ApprovalRatio, &r.CommentCount, &r.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "content: scan record")
		}
		r.Kind = model.SourceKind(k)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "content: iterate records")
	}
	return out, nil
}

// Static serves fixed records, keyed by place ID. Used for dry runs and tests.
type Static map[string][]model.ContentRecord

// Read implements Reader.
func (s Static) Read(_ context.Context, place model.Place, kind model.SourceKind) ([]model.ContentRecord, error) {
	out := []model.ContentRecord{}
	for _, r := range s[place.ID] {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
