package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect and grow the manager cluster",
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the raft state of the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		info, err := c.ClusterInfo(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Node ID:       %s\n", info.NodeID)
		fmt.Fprintf(out, "State:         %s\n", info.State)
		fmt.Fprintf(out, "Leader:        %s\n", orDash(info.LeaderID))
		fmt.Fprintf(out, "Last index:    %d\n", info.LastIndex)
		fmt.Fprintf(out, "Applied index: %d\n", info.AppliedIndex)
		fmt.Fprintln(out)

		table := newTable(out, "ID", "ADDRESS", "SUFFRAGE", "LEADER")
		for _, s := range info.Servers {
			table.Append([]string{s.ID, s.Address, s.Suffrage, strconv.FormatBool(s.Leader)})
		}
		table.Render()
		return nil
	},
}

var clusterTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a token for joining a manager node",
	Long: `Generate a token that admits one more manager node to the cluster.

Examples:
  burrow cluster token --ttl 1h
  burrow manager --join 10.0.0.1:9500 --token $(burrow cluster token -q)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		quiet, _ := cmd.Flags().GetBool("quiet")

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		ttlArg := ""
		if ttl > 0 {
			ttlArg = ttl.String()
		}
		token, err := c.CreateToken(ctx, ttlArg)
		if err != nil {
			return err
		}

		if quiet {
			fmt.Fprintln(cmd.OutOrStdout(), token.Token)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token:   %s\nExpires: %s\n", token.Token, formatTime(token.ExpiresAt))
		return nil
	},
}

func init() {
	clusterTokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default: server default)")
	clusterTokenCmd.Flags().BoolP("quiet", "q", false, "Only print the token")

	clusterCmd.AddCommand(clusterInfoCmd)
	clusterCmd.AddCommand(clusterTokenCmd)
}
