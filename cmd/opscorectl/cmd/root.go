package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	secret    string
	timeout   time.Duration
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "opscorectl",
	Short: "Operate a running opscore-updater sidecar",
	Long: `opscorectl talks to a running opscore-updater's REST control API
over HTTP, presenting the blue/green update executor as a set of
subcommands.

Examples:
  # Check current update state
  opscorectl status --server http://localhost:9090

  # Apply a new release
  opscorectl apply v1.4.0 --server http://localhost:9090 --secret $(cat updater.secret)

  # Roll back to a previous commit
  opscorectl rollback a1b2c3d --server http://localhost:9090

  # Inspect recent apply/rollback history
  opscorectl history
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "Base URL of the opscore-updater control API")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "Shared control API secret (overrides OPSCORECTL_SECRET)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(unpauseCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}
