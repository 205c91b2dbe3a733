package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/cyber-rating/internal/rating"
)

var (
	rateIndustry  string
	rateNAICS     string
	rateRevenue   int64
	rateLimit     int64
	rateRetention int64
	rateControls  []string
	rateJSON      bool
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Rate one submission and print the premium breakdown",
	Example: `  cyber-rating rate --industry Software_as_a_Service_SaaS --revenue 5000000 \
    --limit 2000000 --retention 25000 --controls MFA,EDR`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("rate"); err != nil {
			return err
		}
		engine, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}

		q, err := rateOne(engine, rateIndustry, rateNAICS, rating.QuoteRequest{
			Revenue:   rateRevenue,
			Limit:     rateLimit,
			Retention: rateRetention,
			Controls:  rateControls,
		})
		if err != nil {
			return premiumError(err)
		}

		if rateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		}
		formatBreakdown(os.Stdout, q)
		return nil
	},
}

// rateOne resolves the industry (slug first, then NAICS) and prices req.
func rateOne(engine *rating.Engine, industry, naics string, req rating.QuoteRequest) (*rating.Quote, error) {
	slug, err := engine.ResolveIndustry(industry, naics)
	if err != nil {
		return nil, err
	}
	req.Industry = slug
	return engine.PriceWithBreakdown(req)
}

func formatBreakdown(out io.Writer, q *rating.Quote) {
	b := q.Breakdown
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Industry:\t%s (hazard class %d)\n", b.Industry, b.HazardClass)
	fmt.Fprintf(w, "Revenue:\t%s (%s)\n", money(b.Revenue), b.RevenueBand)
	fmt.Fprintf(w, "Limit / Retention:\t%s / %s\n", money(b.Limit), money(b.Retention))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Base rate per $1K:\t%s\n", b.BaseRatePer1K)
	fmt.Fprintf(w, "Base premium:\t%s\n", b.BasePremium.StringFixed(2))
	fmt.Fprintf(w, "x limit factor\t%s\t= %s\n", b.LimitFactor, b.PremiumAfterLimit.StringFixed(2))
	fmt.Fprintf(w, "x retention factor\t%s\t= %s\n", b.RetentionFactor, b.PremiumAfterRetention.StringFixed(2))
	for _, m := range b.ControlModifiers {
		label := m.Control
		if m.Missing {
			label += " (missing)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", label, m.Modifier, m.Reason)
	}
	fmt.Fprintf(w, "After controls:\t%s\n", b.PremiumAfterControls.StringFixed(2))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Premium:\t%s\n", money(q.Premium))
	fmt.Fprintf(w, "Table:\t%s (%s)\n", b.TableVersion, shortHash(b.TableHash))
	w.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	f := rateCmd.Flags()
	f.StringVar(&rateIndustry, "industry", "", "industry slug")
	f.StringVar(&rateNAICS, "naics", "", "NAICS code, used when --industry is empty")
	f.Int64Var(&rateRevenue, "revenue", 0, "annual revenue in dollars")
	f.Int64Var(&rateLimit, "limit", 1_000_000, "policy limit in dollars")
	f.Int64Var(&rateRetention, "retention", 25_000, "retention in dollars")
	f.StringSliceVar(&rateControls, "controls", nil, "security controls in place (comma separated)")
	f.BoolVar(&rateJSON, "json", false, "print the quote as JSON")
	_ = rateCmd.MarkFlagRequired("revenue")
	rootCmd.AddCommand(rateCmd)
}
