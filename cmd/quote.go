package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/resilience"
	"github.com/sells-group/cyber-rating/internal/tower"
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Save, bind and list insurance tower quotes",
}

// -- quote save --

var (
	saveID         string
	saveSubmission string
	saveTowerFile  string
	savePosition   string
	saveRetention  int64
	saveSold       int64
	saveEffective  string
	saveExpiration string
	saveIndustry   string
	saveNAICS      string
	saveRevenue    int64
	saveRateLimit  int64
	saveControls   []string
)

var quoteSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Name a tower, optionally rate it, and store it on a submission",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		data, err := readInput(cmd.InOrStdin(), saveTowerFile)
		if err != nil {
			return err
		}
		layers, err := tower.ParseTower(data)
		if err != nil {
			return err
		}
		position, err := tower.ParsePosition(savePosition)
		if err != nil {
			return err
		}
		effective, err := parseDate(saveEffective)
		if err != nil {
			return err
		}
		expiration, err := parseDate(saveExpiration)
		if err != nil {
			return err
		}

		namer := newNamer(cfg)
		var q *rating.Quote
		if saveRevenue > 0 {
			engine, err := initEngine(ctx)
			if err != nil {
				return err
			}
			limit := saveRateLimit
			if limit == 0 {
				if limit, err = tower.TowerLimit(layers); err != nil {
					return err
				}
			}
			q, err = rateOne(engine, saveIndustry, saveNAICS, rating.QuoteRequest{
				Revenue:   saveRevenue,
				Limit:     limit,
				Retention: namer.Retention(layers, saveRetention),
				Controls:  saveControls,
			})
			if err != nil {
				return premiumError(err)
			}
		}

		row, err := quote.BuildRow(namer, quote.RowInput{
			ID:               saveID,
			SubmissionID:     saveSubmission,
			Layers:           layers,
			Position:         position,
			PrimaryRetention: saveRetention,
			Quote:            q,
			SoldPremium:      saveSold,
			EffectiveDate:    effective,
			ExpirationDate:   expiration,
		})
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := saveTower(ctx, st, row); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Saved %s: %s\n", row.ID, row.QuoteName)
		return nil
	},
}

func saveTower(ctx context.Context, st quote.Store, row *quote.TowerRow) error {
	err := resilience.Do(ctx, retryPolicy(cfg, "quote.save"), func(ctx context.Context) error {
		return st.UpsertTower(ctx, row)
	})
	if err != nil {
		return eris.Wrap(err, "quote save")
	}
	zap.L().Info("quote saved",
		zap.String("id", row.ID),
		zap.String("submission_id", row.SubmissionID),
		zap.String("quote_name", row.QuoteName),
	)
	return nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

// -- quote bind --

var quoteBindCmd = &cobra.Command{
	Use:   "bind <tower-id>",
	Short: "Bind a tower; a submission has at most one bound tower",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := quote.Bind(ctx, st, args[0], retryPolicy(cfg, "quote.bind")); err != nil {
			return eris.Wrap(err, "quote bind")
		}
		fmt.Fprintf(os.Stdout, "Bound %s\n", args[0])
		return nil
	},
}

// -- quote list --

var quoteListCmd = &cobra.Command{
	Use:   "list <submission-id>",
	Short: "List the towers quoted on a submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListTowers(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quote list")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No quotes found.")
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		formatQuotesList(os.Stdout, rows)
		return nil
	},
}

func formatQuotesList(out io.Writer, rows []quote.TowerRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPOSITION\tPREMIUM\tBOUND\tUPDATED")
	for _, r := range rows {
		premium := "-"
		if r.SoldPremium != nil {
			premium = money(*r.SoldPremium)
		}
		bound := ""
		if r.IsBound {
			bound = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.QuoteName, r.Position, premium, bound, r.UpdatedAt.Format(time.DateTime))
	}
	w.Flush()
}

func init() {
	f := quoteSaveCmd.Flags()
	f.StringVar(&saveID, "id", "", "tower id (generated when empty; an existing unbound id is overwritten)")
	f.StringVar(&saveSubmission, "submission", "", "owning submission id")
	f.StringVarP(&saveTowerFile, "file", "f", "", "tower JSON file (default stdin)")
	f.StringVar(&savePosition, "position", "primary", "quote position: primary or excess")
	f.Int64Var(&saveRetention, "primary-retention", 0, "primary retention when no layer carries one")
	f.Int64Var(&saveSold, "sold-premium", 0, "sold premium (default the rated premium)")
	f.StringVar(&saveEffective, "effective", "", "effective date YYYY-MM-DD")
	f.StringVar(&saveExpiration, "expiration", "", "expiration date YYYY-MM-DD")
	f.StringVar(&saveIndustry, "industry", "", "industry slug for rating")
	f.StringVar(&saveNAICS, "naics", "", "NAICS code for rating when --industry is empty")
	f.Int64Var(&saveRevenue, "revenue", 0, "annual revenue; rates the tower when set")
	f.Int64Var(&saveRateLimit, "rate-limit", 0, "limit to rate (default the tower limit)")
	f.StringSliceVar(&saveControls, "controls", nil, "security controls in place (comma separated)")
	_ = quoteSaveCmd.MarkFlagRequired("submission")

	quoteListCmd.Flags().Bool("json", false, "print rows as JSON")

	quoteCmd.AddCommand(quoteSaveCmd, quoteBindCmd, quoteListCmd)
	rootCmd.AddCommand(quoteCmd)
}
