package cmd

import "github.com/spf13/cobra"

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Point-in-time repo and container diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newAPIClient().get("/diagnostics", &result); err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}
