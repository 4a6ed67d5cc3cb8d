package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/params"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Manage the snapshots of a volume",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create VOLUME [SNAPSHOT]",
	Short: "Take a snapshot of an attached volume",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := labelsFlag(cmd)
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		snap, err := c.CreateSnapshot(ctx, args[0], name, labels)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s created\n", snap.Name)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:     "ls VOLUME",
	Aliases: []string{"list"},
	Short:   "List the snapshots of a volume",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		snaps, err := c.ListSnapshots(ctx, args[0])
		if err != nil {
			return err
		}
		printSnapshots(cmd.OutOrStdout(), snaps)
		return nil
	},
}

var snapshotGetCmd = &cobra.Command{
	Use:   "get VOLUME SNAPSHOT",
	Short: "Show a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		s, err := c.GetSnapshot(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:     %s\n", s.Name)
		fmt.Fprintf(out, "Parent:   %s\n", orDash(s.Parent))
		fmt.Fprintf(out, "Children: %s\n", orDash(strings.Join(s.Children, ", ")))
		fmt.Fprintf(out, "Removed:  %t\n", s.Removed)
		fmt.Fprintf(out, "Created:  %s\n", formatTime(s.Created))
		fmt.Fprintf(out, "Labels:   %s\n", orDash(formatLabels(s.Labels)))
		return nil
	},
}

var snapshotRemoveCmd = &cobra.Command{
	Use:     "rm VOLUME SNAPSHOT",
	Aliases: []string{"delete"},
	Short:   "Mark a snapshot removed",
	Long: `Mark a snapshot removed. Its data stays in the chain until
"burrow snapshot purge" coalesces it into its neighbours.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		snaps, err := c.DeleteSnapshot(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printSnapshots(cmd.OutOrStdout(), snaps)
		return nil
	},
}

var snapshotRevertCmd = &cobra.Command{
	Use:   "revert VOLUME SNAPSHOT",
	Short: "Revert the volume head to a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		snaps, err := c.RevertSnapshot(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printSnapshots(cmd.OutOrStdout(), snaps)
		return nil
	},
}

var snapshotPurgeCmd = &cobra.Command{
	Use:   "purge VOLUME",
	Short: "Drop removed snapshots from the chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		purged, err := c.PurgeSnapshots(ctx, args[0])
		if err != nil {
			return err
		}
		if len(purged) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to purge")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %s\n", strings.Join(purged, ", "))
		return nil
	},
}

var snapshotBackupCmd = &cobra.Command{
	Use:   "backup VOLUME SNAPSHOT",
	Short: "Back up a snapshot to the backup target",
	Long: `Queue a backup of a snapshot to the configured backupTarget. The backup
runs in the background; follow it with "burrow bgtask ls VOLUME".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := labelsFlag(cmd)
		if err != nil {
			return err
		}

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		task, err := c.BackupSnapshot(ctx, args[0], args[1], labels)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %d queued: %s\n", task.Num, task.Description)
		return nil
	},
}

func init() {
	snapshotCreateCmd.Flags().StringArrayP("label", "l", nil, "Label KEY=VALUE")
	snapshotBackupCmd.Flags().StringArrayP("label", "l", nil, "Label KEY=VALUE")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotGetCmd)
	snapshotCmd.AddCommand(snapshotRemoveCmd)
	snapshotCmd.AddCommand(snapshotRevertCmd)
	snapshotCmd.AddCommand(snapshotPurgeCmd)
	snapshotCmd.AddCommand(snapshotBackupCmd)
}

func labelsFlag(cmd *cobra.Command) (map[string]string, error) {
	args, _ := cmd.Flags().GetStringArray("label")
	return parseLabels(args)
}

func parseLabels(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label %q, expected KEY=VALUE", arg)
		}
		labels[key] = value
	}
	return labels, nil
}

func formatLabels(labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func printSnapshots(out io.Writer, snaps []*params.Snapshot) {
	table := newTable(out, "NAME", "PARENT", "CHILDREN", "REMOVED", "CREATED")
	for _, s := range snaps {
		table.Append([]string{
			s.Name,
			orDash(s.Parent),
			orDash(strings.Join(s.Children, ",")),
			strconv.FormatBool(s.Removed),
			formatTime(s.Created),
		})
	}
	table.Render()
}
