// Package commands implements the telepilot CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "telepilot",
		Short: "Telepilot - operate this machine over chat",
		Long: `Telepilot lets you operate this machine from a chat app. Messages go
through a reasoning service that can run commands, capture the screen or
camera, and browse the web on your behalf.

Examples:
  telepilot setup
  telepilot serve
  telepilot chat "how much disk space is left?"
  telepilot schedule add "0 9 * * *" "summarize overnight logs"`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newScheduleCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
