package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect research job history",
	Long:  "Commands for listing, viewing, and summarizing research jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, _ := cmd.Flags().GetString("state")
		place, _ := cmd.Flags().GetString("place")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			State:   model.JobState(state),
			PlaceID: place,
			Limit:   limit,
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

// jobDetail is the full record printed by jobs show.
type jobDetail struct {
	*model.ResearchJob
	Transitions     []model.JobTransition        `json:"transitions"`
	Validation      *model.ValidationReport      `json:"validation,omitempty"`
	CrossReferences []model.CrossReferenceResult `json:"cross_references,omitempty"`
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		detail := jobDetail{ResearchJob: job}

		if detail.Transitions, err = st.ListTransitions(ctx, job.ID); err != nil {
			return eris.Wrap(err, "jobs show: transitions")
		}
		report, err := st.GetValidationReport(ctx, job.ID)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return eris.Wrap(err, "jobs show: validation")
		}
		detail.Validation = report
		if detail.CrossReferences, err = st.ListCrossReferences(ctx, job.ID); err != nil {
			return eris.Wrap(err, "jobs show: cross-references")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.JobFilter{Limit: 10000} // high limit for stats
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		formatJobStats(os.Stdout, computeJobStats(jobs))
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("state", "", "filter by job state (QUEUED, PASS_A, COMPLETE, ERROR, ...)")
	jobsListCmd.Flags().String("place", "", "filter by place ID")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// jobStats holds aggregate statistics computed from a set of jobs.
type jobStats struct {
	Total            int
	Complete         int
	ValidationFailed int
	Error            int
	InFlight         int
	CostUSD          float64
	AvgDurSecs       float64
}

// computeJobStats computes aggregate statistics from a list of jobs.
func computeJobStats(jobs []model.ResearchJob) jobStats {
	var s jobStats
	s.Total = len(jobs)

	var totalDur time.Duration
	var durCount int

	for _, j := range jobs {
		s.CostUSD += j.Usage.Cost
		switch j.State {
		case model.JobStateComplete:
			s.Complete++
			if j.FinishedAt != nil {
				totalDur += j.FinishedAt.Sub(j.CreatedAt)
				durCount++
			}
		case model.JobStateValidationFailed:
			s.ValidationFailed++
		case model.JobStateError:
			s.Error++
		default:
			s.InFlight++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.ResearchJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPLACE\tTRIGGER\tSTATE\tCOST\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t-----\t----\t-------\t--------")

	for _, j := range jobs {
		end := j.UpdatedAt
		if j.FinishedAt != nil {
			end = *j.FinishedAt
		}
		dur := end.Sub(j.CreatedAt).Round(time.Second).String()

		place := j.PlaceID
		if len(place) > 30 {
			place = place[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%s\t%s\n",
			truncateID(j.ID),
			place,
			j.Trigger,
			j.State,
			j.Usage.Cost,
			j.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatJobStats writes aggregate stats to w.
func formatJobStats(out io.Writer, s jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Validation failed:\t%d\n", s.ValidationFailed)
	_, _ = fmt.Fprintf(w, "Error:\t%d\n", s.Error)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.2f\n", s.CostUSD)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
