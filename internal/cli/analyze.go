package cli

import (
	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
)

var (
	analyzeEnd      string
	analyzeStrategy string
	analyzeWindow   int
	analyzeTop      int
	analyzeJSON     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "List hospitals whose mortality worsened or improved",
	RunE: func(cmd *cobra.Command, args []string) error {
		end, err := parsePeriodFlag("end", analyzeEnd)
		if err != nil {
			return err
		}
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			End:          end,
			Strategy:     analyzeStrategy,
			WindowMonths: analyzeWindow,
			TopN:         analyzeTop,
			JSON:         analyzeJSON,
		})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeEnd, "end", "", "Last month YYYY-MM (defaults to the previous month)")
	analyzeCmd.Flags().StringVar(&analyzeStrategy, "strategy", "", "death_delta or rate_extremum (defaults to config)")
	analyzeCmd.Flags().IntVar(&analyzeWindow, "window", 0, "Window length in months (defaults to config)")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 0, "Hospitals listed per direction (defaults to config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the report as JSON")
}
