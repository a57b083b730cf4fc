package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dailyDate string

var initHistoryCmd = &cobra.Command{
	Use:   "init-history",
	Short: "Backfill every monthly aggregate from the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().InitHistory(cmd.Context())
	},
}

var syncMonthCmd = &cobra.Command{
	Use:   "sync-month YYYY-MM",
	Short: "Overwrite one month of aggregates for every hospital",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriodFlag("month", args[0])
		if err != nil {
			return err
		}
		return getApp().SyncMonth(cmd.Context(), period)
	},
}

var dailyUpdateCmd = &cobra.Command{
	Use:   "daily-update",
	Short: "Sync one discharge date and report hospitals above their 3SD threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		var day time.Time
		if dailyDate != "" {
			parsed, err := time.Parse("2006-01-02", dailyDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			day = parsed
		}
		return getApp().DailyUpdate(cmd.Context(), day)
	},
}

func init() {
	dailyUpdateCmd.Flags().StringVar(&dailyDate, "date", "", "Discharge date YYYY-MM-DD (defaults to yesterday)")
}
