// Package research drives one research job per place through assembly,
// both synthesis passes, validation, resolution, cross-referencing and
// optional write-back.
package research

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/events"
	"github.com/sells-group/venue-research/internal/graph"
	"github.com/sells-group/venue-research/internal/metrics"
	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/resolve"
	"github.com/sells-group/venue-research/internal/store"
	"github.com/sells-group/venue-research/internal/synthesis"
	"github.com/sells-group/venue-research/internal/validation"
	"github.com/sells-group/venue-research/internal/vocabulary"
)

// Config holds the gate and write-back settings.
type Config struct {
	DailyCostCeiling   float64
	Cooldown           time.Duration
	BreakerWindow      int
	WriteBackBatchSize int
	ReviewDelta        float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DailyCostCeiling:   25.0,
		Cooldown:           168 * time.Hour,
		BreakerWindow:      3,
		WriteBackBatchSize: 25,
		ReviewDelta:        0.30,
	}
}

// Deps are the collaborators an Orchestrator needs. Metrics and Events
// are optional.
type Deps struct {
	Store      store.Store
	Graph      graph.Reader
	Writer     graph.Writer
	Assembler  *bundle.Assembler
	Engine     *synthesis.Engine
	Validator  *validation.Validator
	Resolver   *resolve.Resolver
	Vocabulary *vocabulary.Vocabulary
	Metrics    *metrics.Metrics
	Events     events.Publisher
}

// Orchestrator owns the job state machine.
type Orchestrator struct {
	Deps
	cfg Config
	now func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Vocabulary == nil {
		deps.Vocabulary = vocabulary.Default()
	}
	if cfg.WriteBackBatchSize <= 0 {
		cfg.WriteBackBatchSize = DefaultConfig().WriteBackBatchSize
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = DefaultConfig().BreakerWindow
	}
	return &Orchestrator{Deps: deps, cfg: cfg, now: time.Now}
}

// Run executes one research job for placeID. A run refused by a gate
// creates no job and returns a Blocked result. A job that ends in
// VALIDATION_FAILED or ERROR is reported through the result's job state;
// the returned error is reserved for failures to start or record the job.
func (o *Orchestrator) Run(ctx context.Context, placeID string, trigger model.TriggerKind, writeBack bool) (*model.JobResult, error) {
	if !trigger.Valid() {
		return nil, eris.Errorf("research: unknown trigger %q", trigger)
	}
	log := zap.L().With(zap.String("place_id", placeID), zap.String("trigger", string(trigger)))

	place, err := o.Graph.GetPlace(ctx, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load place %s", placeID)
	}

	if !trigger.Privileged() {
		reason, err := o.checkGates(ctx, placeID)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			o.Metrics.JobBlocked(reason)
			log.Info("research: run blocked", zap.String("reason", string(reason)))
			return &model.JobResult{Blocked: true, BlockReason: reason}, nil
		}
	}

	job, err := o.Store.CreateJob(ctx, placeID, trigger, writeBack)
	if err != nil {
		return nil, eris.Wrap(err, "research: create job")
	}
	o.Metrics.JobStarted(trigger)

	r := &run{
		o:      o,
		job:    job,
		place:  *place,
		state:  model.JobStateQueued,
		result: &model.JobResult{Job: job},
		log:    log.With(zap.String("job_id", job.ID)),
	}
	r.log.Info("research: job started", zap.Bool("write_back", writeBack))

	if err := r.execute(ctx); err != nil {
		return r.result, err
	}
	return r.result, nil
}

// run carries the state of one job through its stages.
type run struct {
	o      *Orchestrator
	job    *model.ResearchJob
	place  model.Place
	state  model.JobState
	result *model.JobResult
	log    *zap.Logger

	bundle   *bundle.Bundle
	passA    model.CitySynthesis
	venues   []model.VenueSignal
	existing map[string]model.ConvergenceSignal
}

// stageFunc runs one stage. A nil stageFunc error moves the job on.
type stageFunc func(ctx context.Context) error

func (r *run) execute(ctx context.Context) error {
	stages := []struct {
		state model.JobState
		fn    stageFunc
	}{
		{model.JobStateAssembling, r.assemble},
		{model.JobStatePassA, r.runPassA},
		{model.JobStatePassB, r.runPassB},
		{model.JobStateValidating, r.validate},
		{model.JobStateResolving, r.resolve},
		{model.JobStateCrossReferencing, r.crossReference},
	}
	if r.job.WriteBack {
		stages = append(stages, struct {
			state model.JobState
			fn    stageFunc
		}{model.JobStateWritingBack, r.writeBack})
	}

	for _, s := range stages {
		if err := r.advance(ctx, s.state); err != nil {
			return err
		}
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return r.fail(ctx, err)
		}
		r.log.Info("research: stage complete",
			zap.String("stage", string(s.state)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	if err := r.advance(ctx, model.JobStateComplete); err != nil {
		return err
	}
	r.finish(ctx)
	return nil
}

// advance moves the job to the next state. A failed transition is an
// infrastructure error: the job is moved to ERROR if the store allows it.
func (r *run) advance(ctx context.Context, to model.JobState) error {
	if err := r.o.Store.TransitionJob(ctx, r.job.ID, r.state, to, ""); err != nil {
		err = eris.Wrapf(err, "research: transition %s -> %s", r.state, to)
		if errors.Is(err, store.ErrStaleState) {
			return err
		}
		return r.fail(ctx, err)
	}
	r.state = to
	r.job.State = to
	return nil
}

// validationFailure marks stage errors that end the job in VALIDATION_FAILED.
type validationFailure struct {
	report model.ValidationReport
}

func (v *validationFailure) Error() string {
	if len(v.report.Errors) == 0 {
		return "research: validation failed"
	}
	return "research: validation failed: " + v.report.Errors[0].Code + ": " + v.report.Errors[0].Message
}

// fail moves the job to its failing terminal state. It returns an error
// only when that transition cannot be recorded.
func (r *run) fail(ctx context.Context, cause error) error {
	to := model.JobStateError
	var vf *validationFailure
	var oe *synthesis.OutputError
	switch {
	case errors.As(cause, &vf):
		to = model.JobStateValidationFailed
	case errors.As(cause, &oe):
		to = model.JobStateValidationFailed
		report := validation.OutputFailure(oe.Pass, oe.Reason)
		r.result.Validation = &report
		if err := r.o.Store.SaveValidationReport(context.WithoutCancel(ctx), r.job.ID, report); err != nil {
			r.log.Warn("research: save output failure report", zap.Error(err))
		}
		r.o.Metrics.Validation(report)
	}

	r.log.Error("research: job failed",
		zap.String("stage", string(r.state)),
		zap.String("state", string(to)),
		zap.Error(cause),
	)

	// The caller's context may already be done; the terminal state must
	// still be recorded.
	if err := r.o.Store.TransitionJob(context.WithoutCancel(ctx), r.job.ID, r.state, to, cause.Error()); err != nil {
		return eris.Wrapf(err, "research: record %s for job %s", to, r.job.ID)
	}
	r.state = to
	r.job.State = to
	r.job.Error = store.TruncateError(cause.Error())
	r.finish(ctx)
	return nil
}

// finish reloads the job, updates metrics and publishes the event.
func (r *run) finish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if fresh, err := r.o.Store.GetJob(ctx, r.job.ID); err == nil {
		*r.job = *fresh
	} else {
		r.log.Warn("research: reload job", zap.Error(err))
	}

	end := r.o.now()
	if r.job.FinishedAt != nil {
		end = *r.job.FinishedAt
	}
	r.o.Metrics.JobFinished(r.job.State, end.Sub(r.job.CreatedAt))

	if err := r.o.Events.PublishJobFinished(ctx, events.FromJob(r.job, r.result)); err != nil {
		r.log.Warn("research: publish job finished", zap.Error(err))
	}

	r.job.Usage.LogCost(r.log, "research: job finished",
		zap.String("state", string(r.job.State)),
		zap.Int("cross_references", len(r.result.CrossReferences)),
		zap.Int("review_flagged", r.result.ReviewFlagged),
		zap.Int("written_back", r.result.WrittenBack),
	)
}

// usageHook persists and reports the usage of every LLM call for pass.
func (r *run) usageHook(pass string) synthesis.UsageFunc {
	return func(ctx context.Context, u model.TokenUsage) {
		if err := r.o.Store.RecordUsage(context.WithoutCancel(ctx), r.job.ID, u); err != nil {
			r.log.Warn("research: record usage", zap.String("pass", pass), zap.Error(err))
		}
		r.job.Usage.Add(u)
		r.o.Metrics.LLMCall(pass, u)
	}
}
