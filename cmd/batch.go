package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cyber-rating/internal/batch"
)

var (
	batchInput       string
	batchOutput      string
	batchFormat      string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Rate a CSV or XLSX file of submissions",
	Long: `Reads submissions with columns id, industry or naics, revenue, limit,
retention and controls (separated by ";"), rates them concurrently, and writes
one result row per submission. Rows that fail to rate carry the error.`,
	Example: `  cyber-rating batch --input submissions.csv --output ratings.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("rate"); err != nil {
			return err
		}

		rows, err := batch.ReadFile(batchInput)
		if err != nil {
			return err
		}
		engine, err := initEngine(ctx)
		if err != nil {
			return err
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}
		results, sum, err := batch.Run(ctx, engine, rows, concurrency)
		if err != nil {
			return eris.Wrap(err, "batch: run")
		}

		format := batchFormat
		if format == "" {
			format = formatFromPath(batchOutput)
		}

		var out io.Writer = os.Stdout
		if batchOutput != "" && batchOutput != "-" {
			f, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "batch: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := writeResults(out, format, results); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Rated %d submissions: %d succeeded, %d failed\n", sum.Total, sum.Succeeded, sum.Failed)
		return nil
	},
}

func formatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}

func writeResults(out io.Writer, format string, results []batch.Result) error {
	switch format {
	case "csv":
		return batch.WriteCSV(out, results)
	case "xlsx":
		return batch.WriteXLSX(out, results)
	default:
		return eris.Errorf("batch: unknown format %q (want csv or xlsx)", format)
	}
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchInput, "input", "i", "", "input CSV or XLSX file")
	f.StringVarP(&batchOutput, "output", "o", "", "output file (default stdout)")
	f.StringVar(&batchFormat, "format", "", "output format: csv or xlsx (default from --output extension)")
	f.IntVar(&batchConcurrency, "concurrency", 0, "max concurrent ratings (default batch.max_concurrent)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}
