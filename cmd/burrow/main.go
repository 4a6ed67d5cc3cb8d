package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const defaultManagerAddr = "127.0.0.1:9500"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - replicated block storage volumes",
	Long: `Burrow manages replicated block storage volumes across a cluster of hosts.

Volumes are made of replicas placed on distinct hosts and a controller that
exposes the block device on the host the volume is attached to. Snapshots,
backups to a vfs or S3 target and recurring jobs are managed per volume.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	defaultAddr := defaultManagerAddr
	if env := os.Getenv("BURROW_MANAGER"); env != "" {
		defaultAddr = env
	}
	rootCmd.PersistentFlags().String("manager", defaultAddr, "Manager API address (env BURROW_MANAGER)")
	rootCmd.PersistentFlags().Duration("timeout", client.DefaultTimeout, "Request timeout")

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(settingCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(bgtaskCmd)
	rootCmd.AddCommand(backupCmd)
}

// newClient returns a client for --manager and a context bounded by --timeout
func newClient(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc) {
	addr, _ := cmd.Flags().GetString("manager")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return client.NewClient(addr), ctx, cancel
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
