// Package graph reads canonical venues and their convergence signals from
// the knowledge graph, and writes back the additive research-signal columns.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/db"
	"github.com/sells-group/venue-research/internal/model"
)

// ErrPlaceNotFound is returned by GetPlace for an unknown place ID.
var ErrPlaceNotFound = eris.New("graph: place not found")

// Reader is the read side of the knowledge graph.
type Reader interface {
	GetPlace(ctx context.Context, placeID string) (*model.Place, error)
	VenuesInPlace(ctx context.Context, placeID string) ([]model.Venue, error)
	ConvergenceSignals(ctx context.Context, placeID string) (map[string]model.ConvergenceSignal, error)
}

// Writer applies research signals. Each call is one transaction.
type Writer interface {
	ApplyResearchSignals(ctx context.Context, updates []model.GraphUpdate) (int64, error)
}

// ResearchSignalsTable holds the additive columns owned by this pipeline.
const ResearchSignalsTable = "venue_research_signals"

var researchSignalColumns = []string{
	"entity_id", "job_id", "research_tourist_score", "research_tags",
	"research_confidence", "research_relationship", "updated_at",
}

// Postgres implements Reader and Writer against the graph database.
type Postgres struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres wraps a pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// GetPlace loads one place.
func (g *Postgres) GetPlace(ctx context.Context, placeID string) (*model.Place, error) {
	var p model.Place
	var country *string
	err := g.pool.QueryRow(ctx,
		`SELECT id, name, country FROM places WHERE id = $1`, placeID,
	).Scan(&p.ID, &p.Name, &country)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrPlaceNotFound, "graph: get place %s", placeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "graph: get place %s", placeID)
	}
	if country != nil {
		p.Country = *country
	}
	return &p, nil
}

// VenuesInPlace lists the canonical venues of a place ordered by name.
func (g *Postgres) VenuesInPlace(ctx context.Context, placeID string) ([]model.Venue, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT id, place_id, name FROM venues WHERE place_id = $1 ORDER BY name, id`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "graph: list venues for %s", placeID)
	}
	defer rows.Close()

	var venues []model.Venue
	for rows.Next() {
		var v model.Venue
		if err := rows.Scan(&v.ID, &v.PlaceID, &v.Name); err != nil {
			return nil, eris.Wrap(err, "graph: scan venue")
		}
		venues = append(venues, v)
	}
	return venues, eris.Wrap(rows.Err(), "graph: iterate venues")
}

// ConvergenceSignals returns the convergence signal of every venue in a
// place that has one, keyed by entity ID.
func (g *Postgres) ConvergenceSignals(ctx context.Context, placeID string) (map[string]model.ConvergenceSignal, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT c.entity_id, c.convergence_score, c.authority_score, c.tourist_score,
		       COALESCE(c.tags, '{}'), COALESCE(c.mention_count, 0)
		FROM venue_convergence c
		JOIN venues v ON v.id = c.entity_id
		WHERE v.place_id = $1`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "graph: convergence signals for %s", placeID)
	}
	defer rows.Close()

	out := make(map[string]model.ConvergenceSignal)
	for rows.Next() {
		var c model.ConvergenceSignal
		if err := rows.Scan(&c.EntityID, &c.ConvergenceScore, &c.AuthorityScore,
			&c.TouristScore, &c.Tags, &c.MentionCount); err != nil {
			return nil, eris.Wrap(err, "graph: scan convergence signal")
		}
		out[c.EntityID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "graph: iterate convergence signals")
	}
	return out, nil
}

// ApplyResearchSignals upserts the research columns for each update inside a
// single transaction. Core venue fields are never touched.
func (g *Postgres) ApplyResearchSignals(ctx context.Context, updates []model.GraphUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	now := g.now().UTC()
	rows := make([][]any, 0, len(updates))
	for _, u := range updates {
		tags := u.Tags
		if tags == nil {
			tags = []string{}
		}
		rows = append(rows, []any{
			u.EntityID, u.JobID, u.TouristScore, tags,
			u.Confidence, string(u.Relationship), now,
		})
	}

	n, err := db.BulkUpsert(ctx, g.pool, db.UpsertConfig{
		Table:        ResearchSignalsTable,
		Columns:      researchSignalColumns,
		ConflictKeys: []string{"entity_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "graph: apply research signals")
	}
	return n, nil
}
