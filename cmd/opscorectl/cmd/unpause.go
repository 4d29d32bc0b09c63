package cmd

import "github.com/spf13/cobra"

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Clear the pause set after a failed update",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newAPIClient().post("/update/unpause", nil, &result); err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}
