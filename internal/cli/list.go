package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopwatch/internal/app"
)

var (
	listLimit     int
	listMonitored bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Display saved or monitored products",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ListOptions{
			Monitored: listMonitored,
			Limit:     listLimit,
		}

		return getApp().List(cmd.Context(), opts)
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Number of products to display")
	listCmd.Flags().BoolVar(&listMonitored, "monitored", false, "Show monitored products instead of saved snapshots")
}
