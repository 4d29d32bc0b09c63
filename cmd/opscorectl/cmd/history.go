package cmd

import "github.com/spf13/cobra"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent apply/rollback attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newAPIClient().get("/update/history", &result); err != nil {
			return err
		}
		printJSON(result["entries"])
		return nil
	},
}
