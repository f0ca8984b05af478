package main

import (
	"encoding/json"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
)

var (
	runPlaceID   string
	runTrigger   string
	runWriteBack bool
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run research jobs",
}

var researchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one research job for a place",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		trigger := model.TriggerKind(runTrigger)
		if !trigger.Valid() {
			return eris.Errorf("unknown trigger %q", runTrigger)
		}

		env, err := initPipeline(ctx, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Run(ctx, runPlaceID, trigger, runWriteBack)
		if err != nil {
			return eris.Wrap(err, "research run")
		}

		if result.Blocked {
			zap.L().Warn("research run blocked",
				zap.String("place_id", runPlaceID),
				zap.String("reason", string(result.BlockReason)),
			)
		} else {
			zap.L().Info("research run finished",
				zap.String("place_id", runPlaceID),
				zap.String("job_id", result.Job.ID),
				zap.String("state", string(result.Job.State)),
				zap.Int("cross_references", len(result.CrossReferences)),
				zap.Int("review_flagged", result.ReviewFlagged),
				zap.Int("written_back", result.WrittenBack),
				zap.Float64("cost_usd", result.Job.Usage.Cost),
			)
		}

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	researchRunCmd.Flags().StringVar(&runPlaceID, "place", "", "place ID (required)")
	researchRunCmd.Flags().StringVar(&runTrigger, "trigger", string(model.TriggerManual),
		"trigger kind (scheduled, content_refresh, manual, manual_override)")
	researchRunCmd.Flags().BoolVar(&runWriteBack, "write-back", false, "apply eligible signals to the knowledge graph")
	_ = researchRunCmd.MarkFlagRequired("place")

	researchCmd.AddCommand(researchRunCmd)
	rootCmd.AddCommand(researchCmd)
}
