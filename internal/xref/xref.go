// Package xref reconciles LLM venue signals with the convergence signal
// already attached to each entity. Everything here is pure.
package xref

import (
	"math"

	"github.com/sells-group/venue-research/internal/model"
)

const (
	// ConflictTagAgreement is the Jaccard floor below which tags conflict.
	ConflictTagAgreement = 0.20
	// ConflictScoreDelta is the tourist-score gap above which scores conflict.
	ConflictScoreDelta = 0.25
	// AgreementBonusThreshold earns the merged-confidence bonus.
	AgreementBonusThreshold = 0.50

	// MaxMergedTags caps the merged tag list.
	MaxMergedTags = 8

	agreementBonus   = 0.15
	conflictPenalty  = 0.20
	newConfWeight    = 0.4
	existingWeight   = 0.6
	conflictExisting = 0.65
	alignedExisting  = 0.55
)

// TagAgreement is the Jaccard similarity of two tag sets, 0 if either is empty.
func TagAgreement(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ScoreDelta is |existing - incoming| when both are present.
func ScoreDelta(existing, incoming *float64) (float64, bool) {
	if existing == nil || incoming == nil {
		return 0, false
	}
	return math.Abs(*existing - *incoming), true
}

// MergeTouristScores blends two tourist scores, trusting the existing
// convergence value more as the gap widens.
func MergeTouristScores(existing, incoming float64) float64 {
	w := alignedExisting
	if math.Abs(existing-incoming) > ConflictScoreDelta {
		w = conflictExisting
	}
	return w*existing + (1-w)*incoming
}

// mergeTouristPtr applies MergeTouristScores when both sides exist and
// passes the present side through otherwise.
func mergeTouristPtr(existing, incoming *float64) *float64 {
	switch {
	case existing != nil && incoming != nil:
		v := MergeTouristScores(*existing, *incoming)
		return &v
	case existing != nil:
		v := *existing
		return &v
	case incoming != nil:
		v := *incoming
		return &v
	default:
		return nil
	}
}

// MergeConfidence blends incoming and existing confidence, with a bonus for tag
// agreement and a penalty for conflict, clamped to [0,1].
func MergeConfidence(newConf, existingConf, tagAgreement float64, conflict bool) float64 {
	c := newConfWeight*newConf + existingWeight*existingConf
	if tagAgreement >= AgreementBonusThreshold {
		c += agreementBonus
	}
	if conflict {
		c -= conflictPenalty
	}
	return Clamp01(c)
}

// MergeTags orders consensus tags first, then existing-only, then new-only.
// New-only tags in flagged come after all other new-only tags, so they are
// the first dropped by the cap.
func MergeTags(existing, incoming []string, flagged map[string]bool) []string {
	existingSet := toSet(existing)
	newSet := toSet(incoming)

	out := make([]string, 0, MaxMergedTags)
	seen := make(map[string]bool)
	add := func(t string) {
		if seen[t] || len(out) >= MaxMergedTags {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	for _, t := range existing {
		if newSet[t] {
			add(t)
		}
	}
	for _, t := range existing {
		if !newSet[t] {
			add(t)
		}
	}
	for _, t := range incoming {
		if !existingSet[t] && !flagged[t] {
			add(t)
		}
	}
	for _, t := range incoming {
		if !existingSet[t] && flagged[t] {
			add(t)
		}
	}
	return out
}

// amplifiedTags marks every tag of a signal whose sources look amplified.
func amplifiedTags(sig model.VenueSignal) map[string]bool {
	if !sig.AmplificationSuspected {
		return nil
	}
	return toSet(sig.Tags)
}

// IsConflict applies the agreement test: tag agreement below the floor, or
// a score gap above the limit when both sides carry scores. An empty tag
// set on either side has agreement 0 and so conflicts.
func IsConflict(tagAgreement, delta float64, hasDelta bool) bool {
	return tagAgreement < ConflictTagAgreement || (hasDelta && delta > ConflictScoreDelta)
}

// Score reconciles one entity. ok is false when neither side has a signal,
// in which case no record should be produced.
func Score(existing *model.ConvergenceSignal, resolved *model.ResolvedVenueSignal) (model.CrossReferenceResult, bool) {
	hasExisting := existing.Present()
	hasNew := resolved != nil

	switch {
	case hasExisting && hasNew:
		return scoreBoth(existing, resolved), true
	case hasNew:
		return scoreNewOnly(resolved), true
	case hasExisting:
		return scoreExistingOnly(existing), true
	default:
		return model.CrossReferenceResult{}, false
	}
}

func scoreBoth(existing *model.ConvergenceSignal, resolved *model.ResolvedVenueSignal) model.CrossReferenceResult {
	sig := resolved.Signal
	newScore := sig.TouristScore
	agreement := TagAgreement(existing.Tags, sig.Tags)
	delta, hasDelta := ScoreDelta(existing.TouristScore, &newScore)
	conflict := IsConflict(agreement, delta, hasDelta)

	rel := model.RelationshipAgree
	if conflict {
		rel = model.RelationshipConflict
	}

	existingConf := existingConfidence(existing)
	res := model.CrossReferenceResult{
		EntityID:           resolved.EntityID,
		Relationship:       rel,
		TagAgreement:       agreement,
		MergedTouristScore: mergeTouristPtr(existing.TouristScore, &newScore),
		MergedTags:         MergeTags(existing.Tags, sig.Tags, amplifiedTags(sig)),
		MergedConfidence:   MergeConfidence(sig.Confidence, existingConf, agreement, conflict),
		ExistingConfidence: existingConf,
	}
	if hasDelta {
		d := delta
		res.ScoreDelta = &d
	}
	return res
}

func scoreNewOnly(resolved *model.ResolvedVenueSignal) model.CrossReferenceResult {
	sig := resolved.Signal
	score := sig.TouristScore
	return model.CrossReferenceResult{
		EntityID:           resolved.EntityID,
		Relationship:       model.RelationshipNewOnly,
		MergedTouristScore: &score,
		MergedTags:         MergeTags(nil, sig.Tags, amplifiedTags(sig)),
		MergedConfidence:   Clamp01(sig.Confidence),
	}
}

func scoreExistingOnly(existing *model.ConvergenceSignal) model.CrossReferenceResult {
	conf := existingConfidence(existing)
	return model.CrossReferenceResult{
		EntityID:           existing.EntityID,
		Relationship:       model.RelationshipExistingOnly,
		MergedTouristScore: mergeTouristPtr(existing.TouristScore, nil),
		MergedTags:         MergeTags(existing.Tags, nil, nil),
		MergedConfidence:   conf,
		ExistingConfidence: conf,
	}
}

// existingConfidence reads the convergence score as the prior confidence.
func existingConfidence(c *model.ConvergenceSignal) float64 {
	if c == nil || c.ConvergenceScore == nil {
		return 0
	}
	return Clamp01(*c.ConvergenceScore)
}

// Clamp01 clamps v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toSet(tags []string) map[string]bool {
	s := make(map[string]bool, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}
