package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/botlauncher/launcher/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the launcher version",
	Args:  cobra.NoArgs,
	// No config or log file is needed to print the version.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "launcher %s (built %s)\n", config.Version, config.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
