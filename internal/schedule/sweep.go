// Package schedule runs research sweeps over many places as a Temporal
// workflow. Places are researched one at a time and an activity is never
// retried, so a place is never re-run implicitly.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
)

// DefaultActivityTimeout bounds one place's research job.
const DefaultActivityTimeout = 30 * time.Minute

// SweepInput selects the places to research.
type SweepInput struct {
	PlaceIDs  []string          `json:"place_ids"`
	Trigger   model.TriggerKind `json:"trigger"`
	WriteBack bool              `json:"write_back"`
	// ActivityTimeout overrides DefaultActivityTimeout when positive.
	ActivityTimeout time.Duration `json:"activity_timeout,omitempty"`
}

// PlaceOutcome is the result of one place in a sweep.
type PlaceOutcome struct {
	PlaceID     string            `json:"place_id"`
	JobID       string            `json:"job_id,omitempty"`
	State       model.JobState    `json:"state,omitempty"`
	Blocked     bool              `json:"blocked,omitempty"`
	BlockReason model.BlockReason `json:"block_reason,omitempty"`
	// Skipped is set for places not attempted because a global gate closed.
	Skipped bool    `json:"skipped,omitempty"`
	CostUSD float64 `json:"cost_usd"`
	Error   string  `json:"error,omitempty"`
}

// SweepResult lists one outcome per requested place, in input order.
type SweepResult struct {
	Outcomes []PlaceOutcome `json:"outcomes"`
}

// Count returns how many outcomes satisfy pred.
func (r *SweepResult) Count(pred func(PlaceOutcome) bool) int {
	n := 0
	for _, o := range r.Outcomes {
		if pred(o) {
			n++
		}
	}
	return n
}

// SweepWorkflow researches each place in turn. A budget or breaker block
// applies to every later place too, so the remaining places are skipped.
func SweepWorkflow(ctx workflow.Context, in SweepInput) (*SweepResult, error) {
	timeout := in.ActivityTimeout
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	log := workflow.GetLogger(ctx)

	var a *Activities
	res := &SweepResult{Outcomes: make([]PlaceOutcome, 0, len(in.PlaceIDs))}
	for i, placeID := range in.PlaceIDs {
		var out PlaceOutcome
		err := workflow.ExecuteActivity(ctx, a.RunResearch, RunResearchInput{
			PlaceID:   placeID,
			Trigger:   in.Trigger,
			WriteBack: in.WriteBack,
		}).Get(ctx, &out)
		if err != nil {
			log.Warn("schedule: place failed", "place_id", placeID, "error", err)
			out = PlaceOutcome{PlaceID: placeID, Error: err.Error()}
		}
		res.Outcomes = append(res.Outcomes, out)

		if out.Blocked && (out.BlockReason == model.BlockBudget || out.BlockReason == model.BlockBreaker) {
			log.Info("schedule: sweep stopped by gate", "reason", string(out.BlockReason),
				"remaining", len(in.PlaceIDs)-i-1)
			for _, rest := range in.PlaceIDs[i+1:] {
				res.Outcomes = append(res.Outcomes, PlaceOutcome{PlaceID: rest, Skipped: true})
			}
			break
		}
	}
	return res, nil
}

// RunResearchInput is the activity argument.
type RunResearchInput struct {
	PlaceID   string            `json:"place_id"`
	Trigger   model.TriggerKind `json:"trigger"`
	WriteBack bool              `json:"write_back"`
}

// Runner runs one research job. *research.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, placeID string, trigger model.TriggerKind, writeBack bool) (*model.JobResult, error)
}

// Activities holds the activity implementations.
type Activities struct {
	Runner Runner
}

// RunResearch runs one job and reports its outcome. Only failures to start
// or record the job are returned as errors.
func (a *Activities) RunResearch(ctx context.Context, in RunResearchInput) (*PlaceOutcome, error) {
	res, err := a.Runner.Run(ctx, in.PlaceID, in.Trigger, in.WriteBack)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: research %s", in.PlaceID)
	}
	out := &PlaceOutcome{
		PlaceID:     in.PlaceID,
		Blocked:     res.Blocked,
		BlockReason: res.BlockReason,
	}
	if res.Job != nil {
		out.JobID = res.Job.ID
		out.State = res.Job.State
		out.CostUSD = res.Job.Usage.Cost
		out.Error = res.Job.Error
	}
	return out, nil
}

// NewWorker registers the sweep workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		// One job at a time per worker.
		MaxConcurrentActivityExecutionSize: 1,
	})
	w.RegisterWorkflow(SweepWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartSweep starts a sweep workflow and returns its run handle.
func StartSweep(ctx context.Context, c client.Client, taskQueue string, in SweepInput) (client.WorkflowRun, error) {
	if len(in.PlaceIDs) == 0 {
		return nil, eris.New("schedule: no places to sweep")
	}
	if !in.Trigger.Valid() {
		return nil, eris.Errorf("schedule: unknown trigger %q", in.Trigger)
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "venue-research-sweep-" + uuid.New().String(),
		TaskQueue: taskQueue,
	}, SweepWorkflow, in)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: start sweep")
	}
	zap.L().Info("schedule: sweep started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.Int("places", len(in.PlaceIDs)),
	)
	return run, nil
}
