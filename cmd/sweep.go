package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/schedule"
)

var (
	sweepPlaces    []string
	sweepFile      string
	sweepTrigger   string
	sweepWriteBack bool
	sweepWait      bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Start a research sweep over many places",
	Long:  "Starts a Temporal workflow that researches each place in turn. Places come from --place flags and/or a file with one place ID per line.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		places := sweepPlaces
		if sweepFile != "" {
			f, err := os.Open(sweepFile)
			if err != nil {
				return eris.Wrap(err, "open place file")
			}
			fromFile, err := readPlaceIDs(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			places = append(places, fromFile...)
		}
		places = dedupePlaces(places)

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		run, err := schedule.StartSweep(ctx, c, cfg.Temporal.TaskQueue, schedule.SweepInput{
			PlaceIDs:  places,
			Trigger:   model.TriggerKind(sweepTrigger),
			WriteBack: sweepWriteBack,
		})
		if err != nil {
			return err
		}
		if !sweepWait {
			return nil
		}

		var res schedule.SweepResult
		if err := run.Get(ctx, &res); err != nil {
			return eris.Wrap(err, "sweep result")
		}
		zap.L().Info("sweep finished",
			zap.Int("places", len(res.Outcomes)),
			zap.Int("complete", res.Count(func(o schedule.PlaceOutcome) bool { return o.State == model.JobStateComplete })),
			zap.Int("blocked", res.Count(func(o schedule.PlaceOutcome) bool { return o.Blocked })),
			zap.Int("skipped", res.Count(func(o schedule.PlaceOutcome) bool { return o.Skipped })),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// readPlaceIDs reads one place ID per line. Blank lines and lines starting
// with # are ignored.
func readPlaceIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read place file")
	}
	return ids, nil
}

// dedupePlaces drops repeated IDs, keeping first-seen order.
func dedupePlaces(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func init() {
	sweepCmd.Flags().StringSliceVar(&sweepPlaces, "place", nil, "place ID (repeatable)")
	sweepCmd.Flags().StringVar(&sweepFile, "file", "", "file with one place ID per line")
	sweepCmd.Flags().StringVar(&sweepTrigger, "trigger", string(model.TriggerScheduled), "trigger kind for every job")
	sweepCmd.Flags().BoolVar(&sweepWriteBack, "write-back", false, "apply eligible signals to the knowledge graph")
	sweepCmd.Flags().BoolVar(&sweepWait, "wait", false, "wait for the sweep to finish and print its result")
	rootCmd.AddCommand(sweepCmd)
}
