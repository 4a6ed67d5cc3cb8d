package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "List the hosts of the cluster",
}

var hostListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		hosts, err := c.ListHosts(ctx)
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "ID", "ADDRESS", "RAFT ADDRESS", "STATUS", "LAST SEEN")
		for _, h := range hosts {
			table.Append([]string{h.UUID, h.Address, h.RaftAddress, string(h.Status), formatTime(h.LastSeen)})
		}
		table.Render()
		return nil
	},
}

var hostGetCmd = &cobra.Command{
	Use:   "get HOST",
	Short: "Show a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		h, err := c.GetHost(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:           %s\n", h.UUID)
		fmt.Fprintf(out, "Address:      %s\n", h.Address)
		fmt.Fprintf(out, "Raft address: %s\n", h.RaftAddress)
		fmt.Fprintf(out, "Status:       %s\n", h.Status)
		fmt.Fprintf(out, "Joined:       %s\n", formatTime(h.JoinedAt))
		fmt.Fprintf(out, "Last seen:    %s\n", formatTime(h.LastSeen))
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostGetCmd)
}
