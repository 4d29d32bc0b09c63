package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <previous-sha>",
	Short: "Roll back to a previously deployed commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		err := newAPIClient().post("/update/rollback", map[string]string{
			"previous_sha": args[0],
		}, &result)
		if err != nil {
			return err
		}
		printJSON(result)
		if status, _ := result["status"].(string); status != "success" && status != "rolled_back" {
			return fmt.Errorf("rollback did not succeed: status=%v", result["status"])
		}
		return nil
	},
}
