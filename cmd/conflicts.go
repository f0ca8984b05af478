package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect cross-reference conflicts awaiting review",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicting cross-references",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, _ := cmd.Flags().GetString("job")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		conflicts, err := st.ListConflicts(ctx, store.ConflictFilter{
			JobID:      job,
			Unreviewed: !all,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "conflicts list")
		}

		if len(conflicts) == 0 {
			fmt.Fprintln(os.Stderr, "No conflicts found.")
			return nil
		}

		formatConflicts(os.Stdout, conflicts)
		return nil
	},
}

func init() {
	conflictsListCmd.Flags().String("job", "", "filter by job ID")
	conflictsListCmd.Flags().Bool("all", false, "include reviewed conflicts")
	conflictsListCmd.Flags().Int("limit", 100, "max number of conflicts to display")

	conflictsCmd.AddCommand(conflictsListCmd)
	rootCmd.AddCommand(conflictsCmd)
}

// formatConflicts writes a tabular list of conflicts to w.
func formatConflicts(out io.Writer, results []model.CrossReferenceResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tENTITY\tAGREEMENT\tDELTA\tCONFIDENCE\tREVIEW\tTAGS")
	_, _ = fmt.Fprintln(w, "---\t------\t---------\t-----\t----------\t------\t----")

	for _, r := range results {
		delta := "-"
		if r.ScoreDelta != nil {
			delta = fmt.Sprintf("%.2f", *r.ScoreDelta)
		}
		review := "pending"
		if r.ReviewDecision != "" {
			review = r.ReviewDecision
		} else if r.NeedsReview {
			review = "flagged"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%.2f\t%s\t%s\n",
			truncateID(r.JobID),
			r.EntityID,
			r.TagAgreement,
			delta,
			r.MergedConfidence,
			review,
			strings.Join(r.MergedTags, ","),
		)
	}
	_ = w.Flush()
}
