package cli

import (
	"github.com/spf13/cobra"

	"mortality-alerts/internal/app"
)

var (
	exportHospital string
	exportFrom     string
	exportTo       string
	exportCSVPath  string
	exportMaxRows  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export monthly mortality records as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Hospital: exportHospital,
			CSVPath:  exportCSVPath,
			MaxRows:  exportMaxRows,
		}

		if exportFrom != "" {
			from, err := parsePeriodFlag("from", exportFrom)
			if err != nil {
				return err
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parsePeriodFlag("to", exportTo)
			if err != nil {
				return err
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportHospital, "hospital", "", "Restrict to one hospital")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First month YYYY-MM (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last month YYYY-MM (inclusive)")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum rows to export (defaults to config)")
}
