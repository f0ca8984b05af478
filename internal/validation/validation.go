// Package validation checks synthesis output before it reaches the resolver.
// Errors block the job; warnings are persisted alongside it.
package validation

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/vocabulary"
)

// Issue codes.
const (
	CodeMissingPassA     = "missing_pass_a_content"
	CodeOutOfRange       = "out_of_range"
	CodeUnknownTag       = "unknown_tag"
	CodeTooManyTags      = "too_many_tags"
	CodeEmptyVenueName   = "empty_venue_name"
	CodeOverConfidence   = "over_confidence"
	CodeTagConcentration = "tag_concentration"
	CodePriorHeavy       = "training_prior_heavy"
	CodeInjection        = "possible_injection_artifact"
	CodeMalformedOutput  = "malformed_output"
)

const maxTags = 8

// Config holds warning thresholds. MinVenuesForStats can hold back the
// share-based warnings for small venue lists; by default any non-empty list
// is checked.
type Config struct {
	MinVenuesForStats      int
	HighConfidence         float64
	OverConfidenceShare    float64
	TagConcentrationShare  float64
	BackgroundOnlyShare    float64
	BaselineDeviation      float64
	BaselineDeviationShare float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinVenuesForStats:      1,
		HighConfidence:         0.85,
		OverConfidenceShare:    0.80,
		TagConcentrationShare:  0.70,
		BackgroundOnlyShare:    0.60,
		BaselineDeviation:      0.30,
		BaselineDeviationShare: 0.50,
	}
}

// Validator applies hard checks and statistical warnings.
type Validator struct {
	cfg Config
}

// New creates a Validator. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Validator {
	d := DefaultConfig()
	if cfg.MinVenuesForStats <= 0 {
		cfg.MinVenuesForStats = d.MinVenuesForStats
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = d.HighConfidence
	}
	if cfg.OverConfidenceShare <= 0 {
		cfg.OverConfidenceShare = d.OverConfidenceShare
	}
	if cfg.TagConcentrationShare <= 0 {
		cfg.TagConcentrationShare = d.TagConcentrationShare
	}
	if cfg.BackgroundOnlyShare <= 0 {
		cfg.BackgroundOnlyShare = d.BackgroundOnlyShare
	}
	if cfg.BaselineDeviation <= 0 {
		cfg.BaselineDeviation = d.BaselineDeviation
	}
	if cfg.BaselineDeviationShare <= 0 {
		cfg.BaselineDeviationShare = d.BaselineDeviationShare
	}
	return &Validator{cfg: cfg}
}

// Validate checks Pass A and Pass B output. baselineMedian is the median
// existing convergence score for the place, or nil when there is none.
func (v *Validator) Validate(
	passA model.CitySynthesis,
	venues []model.VenueSignal,
	vocab *vocabulary.Vocabulary,
	baselineMedian *float64,
) model.ValidationReport {
	r := model.ValidationReport{Errors: []model.Issue{}, Warnings: []model.Issue{}}

	if passA.NeighborhoodCharacterization == "" {
		r.Errors = append(r.Errors, model.Issue{Code: CodeMissingPassA, Message: "pass A neighborhood characterization is empty"})
	}
	if !inUnit(passA.Confidence) {
		r.Errors = append(r.Errors, model.Issue{
			Code: CodeOutOfRange, Message: fmt.Sprintf("pass A confidence %v outside [0,1]", passA.Confidence),
		})
	}

	for i, s := range venues {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			r.Errors = append(r.Errors, model.Issue{Code: CodeEmptyVenueName, Message: fmt.Sprintf("venue %s has no name", label)})
		}
		if !inUnit(s.TouristScore) {
			r.Errors = append(r.Errors, model.Issue{
				Code: CodeOutOfRange, Message: fmt.Sprintf("venue %s tourist_score %v outside [0,1]", label, s.TouristScore),
			})
		}
		if !inUnit(s.Confidence) {
			r.Errors = append(r.Errors, model.Issue{
				Code: CodeOutOfRange, Message: fmt.Sprintf("venue %s confidence %v outside [0,1]", label, s.Confidence),
			})
		}
		if len(s.Tags) > maxTags {
			r.Errors = append(r.Errors, model.Issue{
				Code: CodeTooManyTags, Message: fmt.Sprintf("venue %s has %d tags (max %d)", label, len(s.Tags), maxTags),
			})
		}
		for _, tag := range s.Tags {
			if !vocab.Contains(tag) {
				r.Errors = append(r.Errors, model.Issue{
					Code: CodeUnknownTag, Message: fmt.Sprintf("venue %s tag %q not in vocabulary", label, tag),
				})
			}
		}
	}

	if len(venues) > 0 && len(venues) >= v.cfg.MinVenuesForStats {
		r.Warnings = append(r.Warnings, v.warnings(venues, baselineMedian)...)
	}

	r.Passed = len(r.Errors) == 0
	return r
}

func (v *Validator) warnings(venues []model.VenueSignal, baseline *float64) []model.Issue {
	n := float64(len(venues))
	var out []model.Issue

	high, background, below := 0, 0, 0
	tagCounts := make(map[string]int)
	for _, s := range venues {
		if s.Confidence > v.cfg.HighConfidence {
			high++
		}
		if s.KnowledgeSource == model.KnowledgeBackgroundOnly {
			background++
		}
		if baseline != nil && s.Confidence < *baseline-v.cfg.BaselineDeviation {
			below++
		}
		seen := make(map[string]bool, len(s.Tags))
		for _, t := range s.Tags {
			if !seen[t] {
				seen[t] = true
				tagCounts[t]++
			}
		}
	}

	if share := float64(high) / n; share > v.cfg.OverConfidenceShare {
		out = append(out, model.Issue{
			Code:    CodeOverConfidence,
			Message: fmt.Sprintf("%.0f%% of venues report confidence above %.2f", share*100, v.cfg.HighConfidence),
		})
	}

	tags := make([]string, 0, len(tagCounts))
	for t := range tagCounts {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		if share := float64(tagCounts[t]) / n; share > v.cfg.TagConcentrationShare {
			out = append(out, model.Issue{
				Code:    CodeTagConcentration,
				Message: fmt.Sprintf("tag %q appears on %.0f%% of venues", t, share*100),
			})
		}
	}

	if share := float64(background) / n; share > v.cfg.BackgroundOnlyShare {
		out = append(out, model.Issue{
			Code:    CodePriorHeavy,
			Message: fmt.Sprintf("%.0f%% of venues rely only on background knowledge", share*100),
		})
	}

	if baseline != nil {
		if share := float64(below) / n; share > v.cfg.BaselineDeviationShare {
			out = append(out, model.Issue{
				Code: CodeInjection,
				Message: fmt.Sprintf("%.0f%% of venues score more than %.2f below the baseline median %.2f",
					share*100, v.cfg.BaselineDeviation, *baseline),
			})
		}
	}
	return out
}

// OutputFailure is the report recorded when a pass returned output that
// could not be parsed at all.
func OutputFailure(pass, reason string) model.ValidationReport {
	return model.ValidationReport{
		Passed:   false,
		Errors:   []model.Issue{{Code: CodeMalformedOutput, Message: pass + ": " + reason}},
		Warnings: []model.Issue{},
	}
}

// Median returns the median of values, or nil for an empty slice.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	m := s[mid]
	if len(s)%2 == 0 {
		m = (s[mid-1] + s[mid]) / 2
	}
	return &m
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
