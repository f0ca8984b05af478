// Package resolve maps free-text venue names from Pass B to canonical
// knowledge-graph entities within a single place.
package resolve

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/graph"
	"github.com/sells-group/venue-research/internal/model"
)

// Defaults for Config.
const (
	DefaultFuzzyThreshold     = 0.85
	DefaultMinSubstringLength = 4
)

// Config tunes fuzzy matching.
type Config struct {
	FuzzyThreshold     float64
	MinSubstringLength int
}

// Stats counts outcomes by match type.
type Stats struct {
	Exact int `json:"exact"`
	Fuzzy int `json:"fuzzy"`
	None  int `json:"none"`
}

// Resolution is the result of resolving a batch of signals.
type Resolution struct {
	Resolved   []model.ResolvedVenueSignal
	Unresolved []model.UnresolvedSignal
	Stats      Stats
}

// Resolver resolves names against the venues of one place at a time.
type Resolver struct {
	graph graph.Reader
	cfg   Config
	now   func() time.Time
}

// New creates a Resolver. Zero config values take the package defaults.
func New(reader graph.Reader, cfg Config) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.MinSubstringLength <= 0 {
		cfg.MinSubstringLength = DefaultMinSubstringLength
	}
	return &Resolver{graph: reader, cfg: cfg, now: time.Now}
}

type candidate struct {
	venue      model.Venue
	lower      string
	normalized string
}

// Resolve maps every signal to exactly one entity of place, or records it
// as unresolved. Candidates from any other place are ignored.
func (r *Resolver) Resolve(ctx context.Context, place model.Place, signals []model.VenueSignal) (*Resolution, error) {
	venues, err := r.graph.VenuesInPlace(ctx, place.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: load venues for %s", place.ID)
	}

	cands := make([]candidate, 0, len(venues))
	for _, v := range venues {
		if v.PlaceID != place.ID {
			zap.L().Warn("resolve: skipping venue from another place",
				zap.String("venue_id", v.ID),
				zap.String("venue_place", v.PlaceID),
				zap.String("place", place.ID),
			)
			continue
		}
		cands = append(cands, candidate{
			venue:      v,
			lower:      strings.ToLower(strings.TrimSpace(v.Name)),
			normalized: Normalize(v.Name),
		})
	}
	// Deterministic order for tie-breaks.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].venue.Name != cands[j].venue.Name {
			return cands[i].venue.Name < cands[j].venue.Name
		}
		return cands[i].venue.ID < cands[j].venue.ID
	})

	res := &Resolution{}
	now := r.now().UTC()
	for _, sig := range signals {
		c, matchType, conf := r.match(sig.Name, cands)
		switch matchType {
		case model.MatchExact:
			res.Stats.Exact++
		case model.MatchFuzzy:
			res.Stats.Fuzzy++
		default:
			res.Stats.None++
			res.Unresolved = append(res.Unresolved, model.UnresolvedSignal{
				PlaceID:       place.ID,
				RawName:       sig.Name,
				Signal:        sig,
				RetryCount:    1,
				LastAttemptAt: now,
			})
			continue
		}
		res.Resolved = append(res.Resolved, model.ResolvedVenueSignal{
			Signal:     sig,
			EntityID:   c.venue.ID,
			EntityName: c.venue.Name,
			MatchType:  matchType,
			Confidence: conf,
		})
	}

	zap.L().Debug("resolve: done",
		zap.String("place", place.ID),
		zap.Int("exact", res.Stats.Exact),
		zap.Int("fuzzy", res.Stats.Fuzzy),
		zap.Int("unresolved", res.Stats.None),
	)
	return res, nil
}

// match returns the best candidate for name. cands must be sorted by
// name then ID so the first candidate at the best score wins ties.
func (r *Resolver) match(name string, cands []candidate) (candidate, model.MatchType, float64) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return candidate{}, model.MatchNone, 0
	}
	for _, c := range cands {
		if c.lower == lower {
			return c, model.MatchExact, 1.0
		}
	}

	norm := Normalize(name)
	best := -1
	bestScore := 0.0
	for i, c := range cands {
		sim := Similarity(norm, c.normalized)
		if sim < r.cfg.FuzzyThreshold && !r.substring(norm, c.normalized) {
			continue
		}
		if best < 0 || sim > bestScore {
			best = i
			bestScore = sim
		}
	}
	if best < 0 {
		return candidate{}, model.MatchNone, 0
	}
	return cands[best], model.MatchFuzzy, bestScore
}

func (r *Resolver) substring(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	short, long := a, b
	if len([]rune(short)) > len([]rune(long)) {
		short, long = long, short
	}
	if len([]rune(short)) < r.cfg.MinSubstringLength {
		return false
	}
	return strings.Contains(long, short)
}

// Similarity is the normalized Levenshtein similarity in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

// DedupeByEntity keeps one signal per entity when several raw names resolve
// to it: the highest match confidence wins, then the highest signal
// confidence, then the first seen. Input order is otherwise preserved.
func DedupeByEntity(resolved []model.ResolvedVenueSignal) []model.ResolvedVenueSignal {
	idx := make(map[string]int, len(resolved))
	out := make([]model.ResolvedVenueSignal, 0, len(resolved))
	for _, r := range resolved {
		i, ok := idx[r.EntityID]
		if !ok {
			idx[r.EntityID] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.Confidence > cur.Confidence ||
			(r.Confidence == cur.Confidence && r.Signal.Confidence > cur.Signal.Confidence) {
			out[i] = r
		}
	}
	return out
}
