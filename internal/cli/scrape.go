package cli

import (
	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <protocol>",
	Short: "Fetch and store metrics for one protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scrape(cmd.Context(), args[0])
	},
}
