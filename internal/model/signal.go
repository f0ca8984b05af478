package model

import "time"

// CitySynthesis is the parsed output of Pass A.
type CitySynthesis struct {
	JobID                        string             `json:"job_id,omitempty"`
	NeighborhoodCharacterization string             `json:"neighborhood_characterization"`
	TemporalPatterns             []string           `json:"temporal_patterns"`
	DeclineFlags                 []string           `json:"decline_flags"`
	OvercrowdingFlags            []string           `json:"overcrowding_flags"`
	AmplificationFlags           []string           `json:"amplification_flags"`
	DivergenceSignals            []DivergenceSignal `json:"divergence_signals"`
	Confidence                   float64            `json:"confidence"`
}

// DivergenceSignal records where background knowledge and sources disagree.
type DivergenceSignal struct {
	Topic      string `json:"topic"`
	Sources    string `json:"sources"`
	Background string `json:"background"`
}

// KnowledgeSource classifies how a venue signal is grounded.
type KnowledgeSource string

const (
	KnowledgeGrounded       KnowledgeSource = "grounded_in_sources"
	KnowledgeBackgroundOnly KnowledgeSource = "background_only"
	KnowledgeBoth           KnowledgeSource = "both"
	KnowledgeNeither        KnowledgeSource = "neither"
)

// ParseKnowledgeSource maps model output onto the closed set, falling back
// to KnowledgeNeither for anything unrecognized.
func ParseKnowledgeSource(s string) KnowledgeSource {
	switch KnowledgeSource(s) {
	case KnowledgeGrounded, KnowledgeBackgroundOnly, KnowledgeBoth, KnowledgeNeither:
		return KnowledgeSource(s)
	}
	switch s {
	case "grounded-in-sources", "sources":
		return KnowledgeGrounded
	case "grounded-in-background-only", "background", "grounded_in_background_only":
		return KnowledgeBackgroundOnly
	}
	return KnowledgeNeither
}

// VenueSignal is Pass B output for one raw venue name.
type VenueSignal struct {
	Name                   string          `json:"name"`
	Tags                   []string        `json:"tags"`
	TouristScore           float64         `json:"tourist_score"`
	TemporalNote           string          `json:"temporal_note,omitempty"`
	AmplificationSuspected bool            `json:"source_amplification_suspected"`
	LocalTouristConflict   bool            `json:"local_tourist_conflict"`
	Confidence             float64         `json:"confidence"`
	KnowledgeSource        KnowledgeSource `json:"knowledge_source"`
}

// MatchType records how a venue name was resolved.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
	MatchNone  MatchType = "none"
)

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchExact, MatchFuzzy, MatchNone:
		return true
	}
	return false
}

// ResolvedVenueSignal ties a venue signal to a canonical entity.
type ResolvedVenueSignal struct {
	Signal     VenueSignal `json:"signal"`
	EntityID   string      `json:"entity_id"`
	EntityName string      `json:"entity_name"`
	MatchType  MatchType   `json:"match_type"`
	Confidence float64     `json:"confidence"`
}

// UnresolvedSignal keeps a venue signal that matched no entity so a later
// enrichment step can retry it.
type UnresolvedSignal struct {
	JobID         string      `json:"job_id,omitempty"`
	PlaceID       string      `json:"place_id"`
	RawName       string      `json:"raw_name"`
	Signal        VenueSignal `json:"signal"`
	RetryCount    int         `json:"retry_count"`
	LastAttemptAt time.Time   `json:"last_attempt_at"`
}

// Relationship classifies how new and existing signals relate.
type Relationship string

const (
	RelationshipAgree        Relationship = "agree"
	RelationshipConflict     Relationship = "conflict"
	RelationshipNewOnly      Relationship = "new_only"
	RelationshipExistingOnly Relationship = "existing_only"
)

// Valid reports whether r is a known relationship.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipAgree, RelationshipConflict, RelationshipNewOnly, RelationshipExistingOnly:
		return true
	}
	return false
}

// CrossReferenceResult is the reconciled record for one entity in one job.
type CrossReferenceResult struct {
	JobID              string       `json:"job_id,omitempty"`
	EntityID           string       `json:"entity_id"`
	Relationship       Relationship `json:"relationship"`
	TagAgreement       float64      `json:"tag_agreement"`
	ScoreDelta         *float64     `json:"score_delta,omitempty"`
	MergedTouristScore *float64     `json:"merged_tourist_score,omitempty"`
	MergedTags         []string     `json:"merged_tags"`
	MergedConfidence   float64      `json:"merged_confidence"`
	ExistingConfidence float64      `json:"existing_confidence"`
	NeedsReview        bool         `json:"needs_review"`
	Applied            bool         `json:"applied"`

	// Set only by an external reviewer.
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewDecision string     `json:"review_decision,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Issue is one validation error or warning.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationReport is the outcome of the validation gate.
type ValidationReport struct {
	Passed   bool    `json:"passed"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// GraphUpdate is the additive field set written back for one entity.
type GraphUpdate struct {
	EntityID     string
	JobID        string
	TouristScore *float64
	Tags         []string
	Confidence   float64
	Relationship Relationship
}
