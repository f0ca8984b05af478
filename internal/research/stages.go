package research

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/resolve"
	"github.com/sells-group/venue-research/internal/validation"
	"github.com/sells-group/venue-research/internal/xref"
)

func (r *run) assemble(ctx context.Context) error {
	b, err := r.o.Assembler.Assemble(ctx, r.place)
	if err != nil {
		return eris.Wrap(err, "research: assemble bundle")
	}
	if err := r.o.Store.SaveBundle(ctx, r.job.ID, b); err != nil {
		return eris.Wrap(err, "research: save bundle")
	}
	r.bundle = b

	r.log.Info("research: bundle assembled",
		zap.Int("documents", len(b.Documents())),
		zap.Int("estimated_tokens", b.EstimatedTokens),
		zap.Int("dropped_for_budget", b.DroppedForBudget),
		zap.Bool("over_hard_ceiling", b.OverHardCeiling),
		zap.Strings("amplification_suspects", b.AmplificationSuspects),
	)
	return nil
}

func (r *run) runPassA(ctx context.Context) error {
	res, err := r.o.Engine.RunPassA(ctx, r.bundle, r.usageHook("pass_a"))
	if res != nil {
		r.o.Metrics.Redactions(res.Redactions)
	}
	if err != nil {
		return err
	}
	r.passA = res.Parsed
	r.passA.JobID = r.job.ID
	r.result.CitySynthesis = &r.passA

	if err := r.o.Store.SaveCitySynthesis(ctx, r.job.ID, r.passA); err != nil {
		return eris.Wrap(err, "research: save city synthesis")
	}
	return nil
}

func (r *run) runPassB(ctx context.Context) error {
	venues, err := r.o.Graph.VenuesInPlace(ctx, r.place.ID)
	if err != nil {
		return eris.Wrap(err, "research: list venues")
	}
	names := make([]string, 0, len(venues))
	for _, v := range venues {
		names = append(names, v.Name)
	}

	res, err := r.o.Engine.RunPassB(ctx, r.bundle, r.passA, names, r.o.Vocabulary, r.usageHook("pass_b"))
	if res != nil {
		r.o.Metrics.Redactions(res.Redactions)
	}
	if err != nil {
		return err
	}
	r.venues = res.Venues

	if err := r.o.Store.SaveVenueSignals(ctx, r.job.ID, r.venues); err != nil {
		return eris.Wrap(err, "research: save venue signals")
	}
	r.log.Info("research: pass b scored venues",
		zap.Int("requested", len(names)),
		zap.Int("scored", len(r.venues)),
		zap.Int("missing", len(res.Missing)),
		zap.Int("calls", res.Calls),
	)
	return nil
}

func (r *run) validate(ctx context.Context) error {
	existing, err := r.o.Graph.ConvergenceSignals(ctx, r.place.ID)
	if err != nil {
		return eris.Wrap(err, "research: load convergence signals")
	}
	r.existing = existing

	report := r.o.Validator.Validate(r.passA, r.venues, r.o.Vocabulary, baselineMedian(existing))
	r.result.Validation = &report
	r.o.Metrics.Validation(report)

	if err := r.o.Store.SaveValidationReport(ctx, r.job.ID, report); err != nil {
		return eris.Wrap(err, "research: save validation report")
	}
	if len(report.Warnings) > 0 {
		codes := make([]string, 0, len(report.Warnings))
		for _, w := range report.Warnings {
			codes = append(codes, w.Code)
		}
		r.log.Warn("research: validation warnings", zap.Strings("codes", codes))
	}
	if !report.Passed {
		return &validationFailure{report: report}
	}
	return nil
}

// baselineMedian is the median convergence score across the place's
// entities, or nil when none has one.
func baselineMedian(existing map[string]model.ConvergenceSignal) *float64 {
	var scores []float64
	for _, sig := range existing {
		if sig.ConvergenceScore != nil {
			scores = append(scores, *sig.ConvergenceScore)
		}
	}
	return validation.Median(scores)
}

func (r *run) resolve(ctx context.Context) error {
	res, err := r.o.Resolver.Resolve(ctx, r.place, r.venues)
	if err != nil {
		return eris.Wrap(err, "research: resolve venues")
	}
	for i := range res.Unresolved {
		res.Unresolved[i].JobID = r.job.ID
	}
	r.result.Resolved = res.Resolved
	r.result.Unresolved = res.Unresolved
	r.o.Metrics.Resolved(res.Stats.Exact, res.Stats.Fuzzy, res.Stats.None)

	if err := r.o.Store.SaveResolutions(ctx, r.job.ID, res.Resolved, res.Unresolved); err != nil {
		return eris.Wrap(err, "research: save resolutions")
	}
	r.log.Info("research: venues resolved",
		zap.Int("exact", res.Stats.Exact),
		zap.Int("fuzzy", res.Stats.Fuzzy),
		zap.Int("unresolved", res.Stats.None),
	)
	return nil
}

func (r *run) crossReference(ctx context.Context) error {
	results := CrossReference(r.existing, resolve.DedupeByEntity(r.result.Resolved), r.o.cfg.ReviewDelta)
	now := r.o.now().UTC()
	flagged := 0
	for i := range results {
		results[i].JobID = r.job.ID
		results[i].CreatedAt = now
		if results[i].NeedsReview {
			flagged++
		}
	}
	r.result.CrossReferences = results
	r.result.ReviewFlagged = flagged
	r.o.Metrics.CrossReferences(results)

	if err := r.o.Store.SaveCrossReferences(ctx, r.job.ID, results); err != nil {
		return eris.Wrap(err, "research: save cross references")
	}
	return nil
}

// CrossReference scores every entity that has an existing signal, a
// resolved new signal, or both, in entity ID order. An entity whose merged
// confidence moves more than reviewDelta away from a pre-existing
// convergence score is flagged for review.
func CrossReference(existing map[string]model.ConvergenceSignal, resolved []model.ResolvedVenueSignal, reviewDelta float64) []model.CrossReferenceResult {
	byEntity := make(map[string]*model.ResolvedVenueSignal, len(resolved))
	ids := make(map[string]bool, len(existing)+len(resolved))
	for i := range resolved {
		byEntity[resolved[i].EntityID] = &resolved[i]
		ids[resolved[i].EntityID] = true
	}
	for id := range existing {
		ids[id] = true
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]model.CrossReferenceResult, 0, len(sorted))
	for _, id := range sorted {
		var ex *model.ConvergenceSignal
		if sig, ok := existing[id]; ok {
			sig.EntityID = id
			ex = &sig
		}
		res, ok := xref.Score(ex, byEntity[id])
		if !ok {
			continue
		}
		if ex != nil && ex.ConvergenceScore != nil &&
			math.Abs(res.MergedConfidence-res.ExistingConfidence) > reviewDelta {
			res.NeedsReview = true
		}
		out = append(out, res)
	}
	return out
}

func (r *run) writeBack(ctx context.Context) error {
	var updates []model.GraphUpdate
	for _, res := range r.result.CrossReferences {
		if !applicable(res) {
			continue
		}
		updates = append(updates, model.GraphUpdate{
			EntityID:     res.EntityID,
			JobID:        r.job.ID,
			TouristScore: res.MergedTouristScore,
			Tags:         res.MergedTags,
			Confidence:   res.MergedConfidence,
			Relationship: res.Relationship,
		})
	}

	for start := 0; start < len(updates); start += r.o.cfg.WriteBackBatchSize {
		end := min(start+r.o.cfg.WriteBackBatchSize, len(updates))
		batch := updates[start:end]

		if _, err := r.o.Writer.ApplyResearchSignals(ctx, batch); err != nil {
			return eris.Wrapf(err, "research: write back entities %d-%d of %d", start+1, end, len(updates))
		}
		ids := make([]string, len(batch))
		for i, u := range batch {
			ids[i] = u.EntityID
		}
		if err := r.o.Store.MarkApplied(ctx, r.job.ID, ids); err != nil {
			return eris.Wrap(err, "research: mark applied")
		}
		r.result.WrittenBack += len(batch)
		r.o.Metrics.WrittenBack(len(batch))
	}

	applied := make(map[string]bool, len(updates))
	for _, u := range updates {
		applied[u.EntityID] = true
	}
	for i := range r.result.CrossReferences {
		if applied[r.result.CrossReferences[i].EntityID] {
			r.result.CrossReferences[i].Applied = true
		}
	}

	r.log.Info("research: write-back complete",
		zap.Int("written_back", r.result.WrittenBack),
		zap.Int("review_flagged", r.result.ReviewFlagged),
	)
	return nil
}

// applicable reports whether a result carries new research to write.
// Existing-only entities have nothing new; flagged ones wait for review.
func applicable(res model.CrossReferenceResult) bool {
	return !res.NeedsReview && res.Relationship != model.RelationshipExistingOnly
}
