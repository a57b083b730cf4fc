package cli

import (
	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
)

var (
	evalModel  int
	evalPeriod string
	evalFilter bool
	evalJSON   bool

	sendModel  int
	sendPeriod string
	sendDryRun bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate an alert model and print the alerting hospitals",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriodFlag("period", evalPeriod)
		if err != nil {
			return err
		}
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{
			ModelID:              evalModel,
			Period:               period,
			ApplyExclusionFilter: evalFilter,
			JSON:                 evalJSON,
		})
	},
}

var sendAlertCmd = &cobra.Command{
	Use:   "send-alert",
	Short: "Evaluate a model and post the digest to Google Chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriodFlag("period", sendPeriod)
		if err != nil {
			return err
		}
		return getApp().SendAlert(cmd.Context(), app.SendOptions{
			ModelID: sendModel,
			Period:  period,
			DryRun:  sendDryRun,
		})
	},
}

func init() {
	evaluateCmd.Flags().IntVar(&evalModel, "model", 0, "Model number 1-13 (defaults to config)")
	evaluateCmd.Flags().StringVar(&evalPeriod, "period", "", "Evaluation month YYYY-MM (defaults to the current month)")
	evaluateCmd.Flags().BoolVar(&evalFilter, "exclude", false, "Apply the notification exclusion filter")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "Print alerts as JSON")

	sendAlertCmd.Flags().IntVar(&sendModel, "model", 0, "Model number 1-13 (defaults to config)")
	sendAlertCmd.Flags().StringVar(&sendPeriod, "period", "", "Evaluation month YYYY-MM (defaults to the current month)")
	sendAlertCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the digest instead of posting it")
}
