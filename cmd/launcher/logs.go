package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	logsTake int
	logsSkip int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent launcher messages, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		page, err := a.Logs(cmd.Context(), logsTake, logsSkip)
		if err != nil {
			return err
		}
		for _, e := range page.Values {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-5s  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type, e.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d)\n", len(page.Values), page.Count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVar(&logsTake, "take", 50, "Number of entries to show")
	logsCmd.Flags().IntVar(&logsSkip, "skip", 0, "Number of newest entries to skip")
}
