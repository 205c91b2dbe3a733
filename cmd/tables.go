package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/cyber-rating/internal/db"
	"github.com/sells-group/cyber-rating/internal/ratetable"
	"github.com/sells-group/cyber-rating/internal/resilience"
)

var (
	tablesFile    string
	tablesReplace bool
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Inspect and seed rate tables",
}

var tablesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a summary of the rate table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			t   *ratetable.Table
			err error
		)
		if tablesFile != "" {
			t, err = ratetable.LoadFile(tablesFile)
		} else {
			if err := cfg.Validate("rate"); err != nil {
				return err
			}
			t, err = loadTable(cmd.Context(), cfg)
		}
		if err != nil {
			return err
		}
		formatTable(os.Stdout, t)
		return nil
	},
}

var tablesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write a YAML rate table into the Postgres rating schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		var (
			t   *ratetable.Table
			err error
		)
		if tablesFile != "" {
			t, err = ratetable.LoadFile(tablesFile)
		} else {
			t, err = ratetable.LoadDefault()
		}
		if err != nil {
			return err
		}

		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.PoolConfig())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		err = resilience.Do(ctx, retryPolicy(cfg, "ratetable.seed"), func(ctx context.Context) error {
			return ratetable.Seed(ctx, pool, t, tablesReplace)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Seeded rate table %s (%s)\n", t.Version(), shortHash(t.Hash()))
		return nil
	},
}

func formatTable(out io.Writer, t *ratetable.Table) {
	def := t.Definition()
	fmt.Fprintf(out, "Rate table %s\n", def.Version)
	fmt.Fprintf(out, "Hash %s\n", t.Hash())
	fmt.Fprintf(out, "Factor lookup %s, rounding unit %s\n\n", def.FactorLookup, money(def.RoundingUnit))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	labels := make([]string, len(def.RevenueBands))
	for i, b := range def.RevenueBands {
		labels[i] = b.Label
	}
	fmt.Fprintf(w, "HAZARD\t%s\n", strings.Join(labels, "\t"))
	for class := 1; class <= 5; class++ {
		rates, ok := def.HazardBaseRates[class]
		if !ok {
			continue
		}
		cells := make([]string, len(labels))
		for i, l := range labels {
			cells[i] = "-"
			if r, ok := rates[l]; ok {
				cells[i] = r.String()
			}
		}
		fmt.Fprintf(w, "%d\t%s\n", class, strings.Join(cells, "\t"))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d industries\n", len(def.Industries))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ind := range def.Industries {
		override := ""
		if len(ind.BaseRates) > 0 {
			override = fmt.Sprintf("%d band overrides", len(ind.BaseRates))
		}
		fmt.Fprintf(w, "  %s\tclass %d\t%s\t%s\n", ind.Slug, ind.HazardClass, strings.Join(ind.NAICS, ","), override)
	}
	w.Flush()

	fmt.Fprintln(out, "\nLimit factors")
	formatBreakpoints(out, def.LimitFactors)
	fmt.Fprintln(out, "\nRetention factors")
	formatBreakpoints(out, def.RetentionFactors)

	fmt.Fprintln(out, "\nControls")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range def.Controls {
		missing := ""
		if c.Mandatory {
			missing = "mandatory, missing +" + c.MissingSurcharge.String()
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", c.Slug, c.Modifier, missing)
	}
	w.Flush()
}

func formatBreakpoints(out io.Writer, pts []ratetable.Breakpoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range pts {
		fmt.Fprintf(w, "  %s\t%s\n", money(p.Amount), p.Factor)
	}
	w.Flush()
}

func init() {
	tablesCmd.PersistentFlags().StringVarP(&tablesFile, "file", "f", "", "rate table YAML (default the configured source)")
	tablesSeedCmd.Flags().BoolVar(&tablesReplace, "replace", false, "truncate the rating tables before seeding")

	tablesCmd.AddCommand(tablesShowCmd, tablesSeedCmd)
	rootCmd.AddCommand(tablesCmd)
}
