package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cyber-rating",
	Short: "Cyber insurance premium rating and tower naming",
	Long: `cyber-rating prices cyber insurance submissions from a versioned rate table
and names insurance tower options.

  rate             price one submission and print the breakdown
  batch            price a CSV or XLSX of submissions
  name             name a tower option and show its attachment points
  quote            save, bind and list towers for a submission
  backfill-names   recompute stored quote names (dry run unless --apply)
  tables           show the active rate table or seed it into Postgres
  migrate          apply schema migrations to the quote store
  serve            run the HTTP rating service

Configuration comes from config.yaml and RATING_* environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
