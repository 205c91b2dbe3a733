package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/resilience"
)

var backfillApply bool

var backfillNamesCmd = &cobra.Command{
	Use:   "backfill-names",
	Short: "Recompute stored quote names from their towers",
	Long: `Recomputes the quote name of every stored tower with the current naming
rules and reports rows whose stored name differs. Nothing is written unless
--apply is set. Re-running after an apply reports no changes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := resilience.DoVal(ctx, retryPolicy(cfg, "quote.backfill"), func(ctx context.Context) (*quote.BackfillResult, error) {
			return quote.Backfill(ctx, st, newNamer(cfg), backfillApply)
		})
		if err != nil {
			return err
		}
		formatBackfill(os.Stdout, res)
		return nil
	},
}

func formatBackfill(out io.Writer, res *quote.BackfillResult) {
	if len(res.Changes) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBMISSION\tOLD NAME\tNEW NAME")
		for _, c := range res.Changes {
			old := c.OldName
			if old == "" {
				old = "(none)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.SubmissionID, old, c.NewName)
		}
		w.Flush()
		fmt.Fprintln(out)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "skipped %s: %s\n", f.ID, f.Error)
	}

	mode := "dry run, nothing written; pass --apply to update"
	if !res.DryRun {
		mode = fmt.Sprintf("%d updated", res.Applied)
	}
	fmt.Fprintf(out, "Scanned %d towers: %d changed, %d skipped (%s)\n",
		res.Scanned, len(res.Changes), len(res.Failures), mode)
}

func init() {
	backfillNamesCmd.Flags().BoolVar(&backfillApply, "apply", false, "write the recomputed names")
	rootCmd.AddCommand(backfillNamesCmd)
}
