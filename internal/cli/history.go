package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopwatch/internal/app"
)

var (
	historyFrom      string
	historyTo        string
	historyPNGPath   string
	historyCSVPath   string
	historyMaxPoints int
)

var historyCmd = &cobra.Command{
	Use:   "history <product-id>",
	Short: "Export a monitored product's price history as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.HistoryOptions{
			ProductID: args[0],
			PNGPath:   historyPNGPath,
			CSVPath:   historyCSVPath,
			MaxPoints: historyMaxPoints,
		}

		if historyFrom != "" {
			from, err := time.Parse(time.RFC3339, historyFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if historyTo != "" {
			to, err := time.Parse(time.RFC3339, historyTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "End timestamp (RFC3339, inclusive)")
	historyCmd.Flags().StringVar(&historyPNGPath, "png", "", "Path to write PNG chart")
	historyCmd.Flags().StringVar(&historyCSVPath, "csv", "", "Path to write CSV data")
	historyCmd.Flags().IntVar(&historyMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
