package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
)

var (
	backfillFrom string
	backfillTo   string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-sync a range of months from the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parsePeriodFlag("from", backfillFrom)
		if err != nil {
			return err
		}
		to, err := parsePeriodFlag("to", backfillTo)
		if err != nil {
			return err
		}
		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{From: from, To: to})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First month YYYY-MM (inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last month YYYY-MM (inclusive)")
}
