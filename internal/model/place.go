package model

import "time"

// Place is the geographic scope of a job.
type Place struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
}

// Venue is a canonical knowledge-graph entity within a place.
type Venue struct {
	ID      string `json:"id"`
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
}

// ConvergenceSignal is the independently computed signal already attached
// to a venue. Nil scores mean the convergence engine has no value.
type ConvergenceSignal struct {
	EntityID         string   `json:"entity_id"`
	ConvergenceScore *float64 `json:"convergence_score,omitempty"`
	AuthorityScore   *float64 `json:"authority_score,omitempty"`
	TouristScore     *float64 `json:"tourist_score,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	MentionCount     int      `json:"mention_count"`
}

// Present reports whether the signal carries anything to reconcile against.
func (c *ConvergenceSignal) Present() bool {
	if c == nil {
		return false
	}
	return c.TouristScore != nil || c.ConvergenceScore != nil || len(c.Tags) > 0
}

// SourceKind groups content records.
type SourceKind string

const (
	SourceCommunity  SourceKind = "community"
	SourceLongForm   SourceKind = "long_form"
	SourceStructural SourceKind = "structural"
)

// SourceKinds lists every kind in assembly order.
var SourceKinds = []SourceKind{SourceCommunity, SourceLongForm, SourceStructural}

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceCommunity, SourceLongForm, SourceStructural:
		return true
	}
	return false
}

// ContentRecord is one raw document from the content store.
type ContentRecord struct {
	ID            string     `json:"id"`
	PlaceID       string     `json:"place_id"`
	Kind          SourceKind `json:"kind"`
	Source        string     `json:"source"`
	Title         string     `json:"title,omitempty"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"` // "text", "markdown" or "html"
	URL           string     `json:"url,omitempty"`
	VerifiedLocal bool       `json:"verified_local"`
	Engagement    int        `json:"engagement"`
	ApprovalRatio float64    `json:"approval_ratio"`
	CommentCount  int        `json:"comment_count"`
	PublishedAt   time.Time  `json:"published_at"`
}
