package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/params"
	"github.com/cuemby/burrow/pkg/types"
	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a volume",
	Long: `Create a detached volume with its replicas placed on distinct hosts.

Examples:
  burrow volume create pgdata --size 10Gi --replicas 3
  burrow volume create scratch --size 512MB --job hourly:"0 * * * *":snapshot:24
  burrow volume create pgdata-copy --from-backup "s3://bucket@us-east-1/?backup=backup-1a2b3c4d&volume=pgdata"

A volume created from a backup takes its size from the backup unless --size
is given, and is detached once the data has been restored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sizeArg, _ := cmd.Flags().GetString("size")
		replicas, _ := cmd.Flags().GetInt("replicas")
		jobArgs, _ := cmd.Flags().GetStringArray("job")
		fromBackup, _ := cmd.Flags().GetString("from-backup")

		var size int64
		switch {
		case sizeArg != "":
			var err error
			if size, err = parseSize(sizeArg); err != nil {
				return err
			}
		case fromBackup == "":
			return fmt.Errorf("--size is required unless --from-backup is given")
		}
		jobs, err := parseJobs(jobArgs)
		if err != nil {
			return err
		}

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		v, err := c.CreateVolume(ctx, &params.CreateVolumeRequest{
			Name:             args[0],
			Size:             params.Size(size),
			NumberOfReplicas: replicas,
			RecurringJobs:    jobs,
			FromBackup:       fromBackup,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Volume %s created (%s, %d replicas)\n",
			v.Name, units.BytesSize(float64(v.Size)), v.NumberOfReplicas)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		volumes, err := c.ListVolumes(ctx)
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "NAME", "SIZE", "REPLICAS", "STATE", "HOST", "ENDPOINT")
		for _, v := range volumes {
			host := ""
			if v.Controller != nil {
				host = v.Controller.HostID
			}
			table.Append([]string{
				v.Name,
				units.BytesSize(float64(v.Size)),
				strconv.Itoa(v.NumberOfReplicas),
				string(v.State),
				orDash(host),
				orDash(v.Endpoint),
			})
		}
		table.Render()
		return nil
	},
}

var volumeGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		v, err := c.GetVolume(ctx, args[0])
		if err != nil {
			return err
		}
		printVolume(cmd.OutOrStdout(), v)
		return nil
	},
}

var volumeRemoveCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"delete"},
	Short:   "Delete a detached volume",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := c.DeleteVolume(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Volume %s deleted\n", args[0])
		return nil
	},
}

var volumeAttachCmd = &cobra.Command{
	Use:   "attach NAME",
	Short: "Attach a volume to a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host")

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		v, err := c.AttachVolume(ctx, args[0], hostID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Volume %s attached to %s at %s\n", v.Name, hostID, v.Endpoint)
		return nil
	},
}

var volumeDetachCmd = &cobra.Command{
	Use:   "detach NAME",
	Short: "Detach a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		v, err := c.DetachVolume(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Volume %s %s\n", v.Name, v.State)
		return nil
	},
}

var volumeRecurringCmd = &cobra.Command{
	Use:   "recurring NAME",
	Short: "Replace the recurring jobs of a volume",
	Long: `Replace the recurring jobs of a volume. Jobs are given as repeated
--job NAME:CRON:TASK[:RETAIN] flags or as a YAML list in --file. Passing
neither clears every job.

TASK is snapshot or backup. RETAIN is the number of snapshots or backups the
job keeps; 0 keeps all of them.

Examples:
  burrow volume recurring pgdata --job nightly:"0 2 * * *":backup:7
  burrow volume recurring pgdata -f jobs.yaml

jobs.yaml:
  - name: hourly
    cron: "0 * * * *"
    task: snapshot
    retain: 24`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobArgs, _ := cmd.Flags().GetStringArray("job")
		file, _ := cmd.Flags().GetString("file")

		var jobs []types.RecurringJob
		var err error
		switch {
		case file != "" && len(jobArgs) > 0:
			return fmt.Errorf("--job and --file are mutually exclusive")
		case file != "":
			jobs, err = readJobsFile(file)
		default:
			jobs, err = parseJobs(jobArgs)
		}
		if err != nil {
			return err
		}

		c, ctx, cancel := newClient(cmd)
		defer cancel()

		v, err := c.UpdateRecurring(ctx, args[0], jobs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Volume %s has %d recurring jobs\n", v.Name, len(v.RecurringJobs))
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().String("size", "", "Volume size, e.g. 10Gi or 512MB")
	volumeCreateCmd.Flags().Int("replicas", 2, "Number of replicas")
	volumeCreateCmd.Flags().StringArray("job", nil, "Recurring job NAME:CRON:TASK[:RETAIN]")
	volumeCreateCmd.Flags().String("from-backup", "", "Backup URL to restore the volume from")

	volumeAttachCmd.Flags().String("host", "", "Host to run the controller on (required)")
	_ = volumeAttachCmd.MarkFlagRequired("host")

	volumeRecurringCmd.Flags().StringArray("job", nil, "Recurring job NAME:CRON:TASK[:RETAIN]")
	volumeRecurringCmd.Flags().StringP("file", "f", "", "YAML file with the list of jobs")

	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeGetCmd)
	volumeCmd.AddCommand(volumeRemoveCmd)
	volumeCmd.AddCommand(volumeAttachCmd)
	volumeCmd.AddCommand(volumeDetachCmd)
	volumeCmd.AddCommand(volumeRecurringCmd)
}

// parseSize accepts plain byte counts as well as human sizes. Both decimal
// and binary suffixes are read as powers of 1024.
func parseSize(s string) (int64, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("invalid size %q: must be positive", s)
	}
	return size, nil
}

// parseJob reads NAME:CRON:TASK[:RETAIN]. Validation of the cron expression
// is left to the server.
func parseJob(s string) (types.RecurringJob, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return types.RecurringJob{}, fmt.Errorf("invalid job %q, expected NAME:CRON:TASK[:RETAIN]", s)
	}

	job := types.RecurringJob{
		Name: strings.TrimSpace(parts[0]),
		Cron: strings.TrimSpace(parts[1]),
		Task: types.RecurringTask(strings.TrimSpace(parts[2])),
	}
	if job.Name == "" || job.Cron == "" {
		return types.RecurringJob{}, fmt.Errorf("invalid job %q: name and cron are required", s)
	}
	if job.Task != types.RecurringTaskSnapshot && job.Task != types.RecurringTaskBackup {
		return types.RecurringJob{}, fmt.Errorf("invalid job %q: task must be %s or %s", s,
			types.RecurringTaskSnapshot, types.RecurringTaskBackup)
	}
	if len(parts) == 4 {
		retain, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || retain < 0 {
			return types.RecurringJob{}, fmt.Errorf("invalid job %q: retain must be a non-negative integer", s)
		}
		job.Retain = retain
	}
	return job, nil
}

func parseJobs(args []string) ([]types.RecurringJob, error) {
	jobs := make([]types.RecurringJob, 0, len(args))
	for _, arg := range args {
		job, err := parseJob(arg)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func readJobsFile(path string) ([]types.RecurringJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}

	var jobs []types.RecurringJob
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	return jobs, nil
}

func printVolume(out io.Writer, v *params.Volume) {
	fmt.Fprintf(out, "Name:         %s\n", v.Name)
	fmt.Fprintf(out, "Size:         %s (%d bytes)\n", units.BytesSize(float64(v.Size)), int64(v.Size))
	fmt.Fprintf(out, "State:        %s\n", v.State)
	fmt.Fprintf(out, "Engine image: %s\n", v.EngineImage)
	fmt.Fprintf(out, "Endpoint:     %s\n", orDash(v.Endpoint))
	if v.Controller != nil {
		fmt.Fprintf(out, "Controller:   %s %s\n", v.Controller.HostID, v.Controller.Address)
	}
	fmt.Fprintf(out, "Created:      %s\n", formatTime(v.Created))
	if v.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s\n", v.LastError)
	}
	fmt.Fprintf(out, "Actions:      %s\n", strings.Join(v.Actions, ", "))

	fmt.Fprintf(out, "\nReplicas (%d):\n", v.NumberOfReplicas)
	table := newTable(out, "NAME", "HOST", "ADDRESS", "RUNNING")
	for _, r := range v.Replicas {
		table.Append([]string{r.Name, r.HostID, orDash(r.Address), strconv.FormatBool(r.Running)})
	}
	table.Render()

	if len(v.RecurringJobs) > 0 {
		fmt.Fprintln(out, "\nRecurring jobs:")
		table = newTable(out, "NAME", "CRON", "TASK", "RETAIN")
		for _, j := range v.RecurringJobs {
			table.Append([]string{j.Name, j.Cron, string(j.Task), strconv.Itoa(j.Retain)})
		}
		table.Render()
	}
}
