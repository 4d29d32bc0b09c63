package cmd

import "github.com/spf13/cobra"

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the updater's current state and uptime",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status map[string]any
		if err := newAPIClient().get("/status", &status); err != nil {
			return err
		}
		printJSON(status)
		return nil
	},
}
