package main

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/params"
	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Browse the backup target",
}

var backupVolumesCmd = &cobra.Command{
	Use:   "volumes [VOLUME]",
	Short: "List the volumes present in the backup target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		var volumes []*params.BackupVolume
		if len(args) == 1 {
			bv, err := c.GetBackupVolume(ctx, args[0])
			if err != nil {
				return err
			}
			volumes = append(volumes, bv)
		} else {
			var err error
			if volumes, err = c.ListBackupVolumes(ctx); err != nil {
				return err
			}
		}

		table := newTable(cmd.OutOrStdout(), "NAME", "SIZE", "CREATED", "LAST BACKUP")
		for _, bv := range volumes {
			table.Append([]string{
				bv.Name,
				units.BytesSize(float64(bv.Size)),
				formatTime(bv.Created),
				orDash(bv.LastBackupName),
			})
		}
		table.Render()
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:     "ls VOLUME",
	Aliases: []string{"list"},
	Short:   "List the backups of a volume",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		backups, err := c.ListBackups(ctx, args[0])
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "NAME", "SNAPSHOT", "CREATED", "URL")
		for _, b := range backups {
			table.Append([]string{b.Name, b.SnapshotName, formatTime(b.Created), b.URL})
		}
		table.Render()
		return nil
	},
}

var backupGetCmd = &cobra.Command{
	Use:   "get VOLUME BACKUP",
	Short: "Show a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		b, err := c.GetBackup(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:             %s\n", b.Name)
		fmt.Fprintf(out, "URL:              %s\n", b.URL)
		fmt.Fprintf(out, "Snapshot:         %s\n", b.SnapshotName)
		fmt.Fprintf(out, "Snapshot created: %s\n", formatTime(b.SnapshotCreated))
		fmt.Fprintf(out, "Created:          %s\n", formatTime(b.Created))
		fmt.Fprintf(out, "Volume:           %s (%s)\n", b.VolumeName, units.BytesSize(float64(b.VolumeSize)))
		fmt.Fprintf(out, "Labels:           %s\n", orDash(formatLabels(b.Labels)))
		return nil
	},
}

var backupRemoveCmd = &cobra.Command{
	Use:     "rm VOLUME BACKUP",
	Aliases: []string{"delete"},
	Short:   "Delete a backup from the backup target",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.DeleteBackup(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup %s deleted\n", args[1])
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupVolumesCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupGetCmd)
	backupCmd.AddCommand(backupRemoveCmd)
}
