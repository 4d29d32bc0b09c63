package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var applyVersion string

var applyCmd = &cobra.Command{
	Use:   "apply <tag>",
	Short: "Apply a release tag via the blue/green update executor",
	Long: `Apply triggers a full blue/green cutover: fetch and checkout the
given tag, build and start the inactive color, probe it healthy, switch
routing, verify the bot, and stop the previously active color. A failure
at any step rolls back automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := args[0]
		version := applyVersion
		if version == "" {
			version = tag
		}

		var result map[string]any
		err := newAPIClient().post("/update/apply", map[string]string{
			"tag":     tag,
			"version": version,
		}, &result)
		if err != nil {
			return err
		}
		printJSON(result)
		if status, _ := result["status"].(string); status != "success" {
			return fmt.Errorf("update did not succeed: status=%v", result["status"])
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyVersion, "version", "", "Version label to record (defaults to the tag)")
}
