package research

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

// checkGates returns the first gate that blocks a run for placeID, or ""
// when the run may proceed. Every gate reads committed job history.
//
// The budget gate counts the recorded cost of every job created since
// midnight UTC, whatever state it ended in: spend on failed or
// validation-failed jobs counts against the daily ceiling.
func (o *Orchestrator) checkGates(ctx context.Context, placeID string) (model.BlockReason, error) {
	now := o.now()

	spent, err := o.Store.SumCostSince(ctx, store.StartOfDayUTC(now))
	if err != nil {
		return "", eris.Wrap(err, "research: budget gate")
	}
	if spent >= o.cfg.DailyCostCeiling {
		return model.BlockBudget, nil
	}

	if o.cfg.Cooldown > 0 {
		last, err := o.Store.LastCompletedAt(ctx, placeID)
		if err != nil {
			return "", eris.Wrap(err, "research: cooldown gate")
		}
		if last != nil && now.Sub(*last) < o.cfg.Cooldown {
			return model.BlockCooldown, nil
		}
	}

	states, err := o.Store.RecentTerminalStates(ctx, o.cfg.BreakerWindow)
	if err != nil {
		return "", eris.Wrap(err, "research: breaker gate")
	}
	if len(states) >= o.cfg.BreakerWindow && allFailed(states) {
		return model.BlockBreaker, nil
	}
	return "", nil
}

func allFailed(states []model.JobState) bool {
	for _, s := range states {
		if !s.Failed() {
			return false
		}
	}
	return len(states) > 0
}
