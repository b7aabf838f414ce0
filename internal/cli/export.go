package cli

import (
	"github.com/spf13/cobra"

	"github.com/entrvpia/defillama-scraper/internal/app"
)

var (
	exportCSVPath     string
	exportPNGPath     string
	exportEntityKey   string
	exportWithChanges bool
	exportMaxPoints   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the metric history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:     exportCSVPath,
			PNGPath:     exportPNGPath,
			EntityKey:   exportEntityKey,
			WithChanges: exportWithChanges,
			MaxPoints:   exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart (requires --entity)")
	exportCmd.Flags().StringVar(&exportEntityKey, "entity", "", "Entity key to chart")
	exportCmd.Flags().BoolVar(&exportWithChanges, "with-changes", false, "Add per-entity delta and pct-change columns to the CSV")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum chart data points (defaults to config)")
}
