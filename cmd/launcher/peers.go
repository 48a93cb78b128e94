package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List your launchers that are currently online",
	Args:  cobra.NoArgs,
	RunE:  runPeers,
}

func init() {
	rootCmd.AddCommand(peersCmd)
}

func runPeers(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	peers, err := a.Peers(ctx)
	if err != nil {
		return fmt.Errorf("list launchers: %w", err)
	}
	if len(peers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No launchers online.")
		return nil
	}

	tags := make([]string, 0, len(peers))
	for tag := range peers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tHOST\tUSER\tOS\tIP")
	for _, tag := range tags {
		p := peers[tag]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tag, p.Host, p.MachineUsername, p.Type, p.IP)
	}
	return w.Flush()
}
