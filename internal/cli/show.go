package cli

import (
	"github.com/spf13/cobra"

	"github.com/entrvpia/defillama-scraper/internal/app"
)

var (
	showRecent int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest metrics per protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Recent: showRecent,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showRecent, "recent", 0, "Show the N most recent records instead of the latest per protocol")
}
