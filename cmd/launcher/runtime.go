package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Manage the Java runtime used to start clients",
}

var runtimeSetCmd = &cobra.Command{
	Use:   "set <dir>",
	Short: "Use an existing Java installation",
	Long:  `Use an existing Java installation. dir must contain a bin directory with the java executable.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SelectRuntime(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Java runtime set to %s.\n", args[0])
		return nil
	},
}

var runtimeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete downloaded runtimes and forget the configured one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ResetRuntime(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Java runtime reset. It will be downloaded again on the next launch.")
		return nil
	},
}

func init() {
	runtimeCmd.AddCommand(runtimeSetCmd, runtimeResetCmd)
	rootCmd.AddCommand(runtimeCmd)
}
