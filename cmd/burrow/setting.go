package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var settingCmd = &cobra.Command{
	Use:   "setting",
	Short: "Read and change cluster settings",
	Long: `Read and change cluster settings.

Known settings:
  backupTarget   vfs:///path or s3://bucket@region/prefix, empty disables backups
  engineImage    image used for new controllers and replicas
  syslogTarget   udp://host:port or tcp://host:port receiving cluster events`,
}

var settingListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		settings, err := c.ListSettings(ctx)
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "NAME", "VALUE")
		for _, s := range settings {
			table.Append([]string{s.Name, orDash(s.Value)})
		}
		table.Render()
		return nil
	},
}

var settingGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		s, err := c.GetSetting(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.Value)
		return nil
	},
}

var settingSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Change a setting",
	Long: `Change a setting. An empty VALUE clears it.

Examples:
  burrow setting set backupTarget vfs:///mnt/backups
  burrow setting set syslogTarget ""`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		s, err := c.UpdateSetting(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", s.Name, s.Value)
		return nil
	},
}

func init() {
	settingCmd.AddCommand(settingListCmd)
	settingCmd.AddCommand(settingGetCmd)
	settingCmd.AddCommand(settingSetCmd)
}
