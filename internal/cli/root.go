package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
	"mortality-alerts/internal/config"
	"mortality-alerts/internal/logging"
	"mortality-alerts/internal/mortality"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:          "mortalitywatch",
	Short:        "Monitor hospital mortality and send alert digests",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, cfgFile, logger)
		appHandle.Out = cmd.OutOrStdout()
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(sendAlertCmd)
	rootCmd.AddCommand(initHistoryCmd)
	rootCmd.AddCommand(syncMonthCmd)
	rootCmd.AddCommand(dailyUpdateCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// parsePeriodFlag parses an optional YYYY-MM flag value.
func parsePeriodFlag(name, value string) (mortality.Period, error) {
	if value == "" {
		return mortality.Period{}, nil
	}
	p, err := mortality.ParsePeriod(value)
	if err != nil {
		return mortality.Period{}, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return p, nil
}
