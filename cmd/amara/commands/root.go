// Package commands implements the amara CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "amara",
		Short: "Amara - persona chat bot",
		Long: `Amara is a persona chat bot for Telegram and Discord. It batches
bursts of private messages into one reply, answers with voice notes and
photos on a schedule, and reports daily activity to its admin.

Examples:
  amara setup
  amara serve
  amara console --user 42
  amara broadcast "New photos tonight"
  amara digest --prune`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConsoleCmd(),
		newStatsCmd(),
		newBroadcastCmd(),
		newDigestCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
