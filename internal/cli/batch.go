package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopwatch/internal/app"
)

var (
	batchFile    string
	batchDelay   time.Duration
	batchRetries int
	batchDryRun  bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Collect a list of product pages once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && batchFile == "" {
			return fmt.Errorf("pass at least one URL or --file")
		}
		if batchRetries < 0 {
			return fmt.Errorf("--retries must not be negative")
		}

		opts := app.BatchOptions{
			Targets:      args,
			File:         batchFile,
			PerItemDelay: batchDelay,
			MaxRetries:   batchRetries,
			DryRun:       batchDryRun,
		}

		return getApp().Batch(cmd.Context(), opts)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file with target URLs")
	batchCmd.Flags().DurationVar(&batchDelay, "delay", 0, "Pause between targets (defaults to config)")
	batchCmd.Flags().IntVar(&batchRetries, "retries", 0, "Attempts per target (defaults to config)")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Print the filtered queue without collecting")
}
