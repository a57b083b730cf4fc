package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
)

var (
	statsDeliveries bool
	statsLimit      int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display hospital statistics or recent digest deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Deliveries: statsDeliveries,
			Limit:      statsLimit,
		}

		return getApp().Stats(cmd.Context(), opts)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsDeliveries, "deliveries", false, "Show audited digest deliveries instead")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 20, "Number of deliveries to display")
}
