package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/botlauncher/launcher/internal/launch"
)

var launchPeer string

var launchCmd = &cobra.Command{
	Use:   "launch <quick-launch>",
	Short: "Launch the clients described by a quick-launch document and exit",
	Long: `Launches every client of the quick-launch document on this machine, one
after another. With --peer the batch is handed to another of your launchers
instead; list them with "launcher peers".`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)
	launchCmd.Flags().StringVar(&launchPeer, "peer", "", "Tag of the launcher that should start the clients")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	sum, err := a.LaunchQuick(ctx, args[0], launchPeer)
	if err != nil {
		return err
	}
	if launchPeer != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %d clients to %s.\n", sum.Total, launchPeer)
		return nil
	}

	// Let the delayed success reports print before exiting.
	select {
	case <-ctx.Done():
	case <-time.After(launch.SuccessReportDelay + 100*time.Millisecond):
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Launched %d of %d clients.\n", sum.Total-sum.Failed, sum.Total)
	if sum.Failed > 0 {
		return fmt.Errorf("%d clients failed to launch", sum.Failed)
	}
	return nil
}
