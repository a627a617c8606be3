package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopwatch/internal/app"
	"shopwatch/internal/config"
	"shopwatch/internal/logging"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "shopwatch/skip-config"

var (
	cfgFile     string
	logLevel    string
	browserMode string
	appHandle   *app.App
)

var rootCmd = &cobra.Command{
	Use:   "shopwatch",
	Short: "Collect product pages and monitor them for price and stock changes",
	Long: `shopwatch collects e-commerce product pages in sequential batch runs and
re-checks selected products on their own intervals, alerting when the price
moves past a threshold or the stock state changes.

Configuration is read from config.yaml (or --config) and SHOPWATCH_* environment
variables, e.g. SHOPWATCH_STORAGE_DRIVER=postgres.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Annotations[skipConfig] == "true" {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if browserMode != "" {
			cfg.Browser.Mode = browserMode
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the shopwatch YAML config (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&browserMode, "browser", "", "Override browser.mode: rod drives Chrome, http fetches static HTML")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
