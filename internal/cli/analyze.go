package cli

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Print analytics over the stored metric history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context())
	},
}
