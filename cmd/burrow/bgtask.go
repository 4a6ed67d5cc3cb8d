package main

import (
	"strconv"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var bgtaskCmd = &cobra.Command{
	Use:   "bgtask",
	Short: "Inspect the background task queue of a volume",
}

var bgtaskListCmd = &cobra.Command{
	Use:     "ls VOLUME",
	Aliases: []string{"list"},
	Short:   "List the background tasks of a volume",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel := newClient(cmd)
		defer cancel()

		tasks, err := c.BgTaskQueue(ctx, args[0])
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "NUM", "DESCRIPTION", "CREATED", "STATUS")
		for _, t := range tasks {
			table.Append([]string{
				strconv.FormatInt(t.Num, 10),
				t.Description,
				formatTime(t.Created),
				taskStatus(t),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	bgtaskCmd.AddCommand(bgtaskListCmd)
}

func taskStatus(t types.BgTask) string {
	switch {
	case !t.Done():
		return "running"
	case t.Err != nil:
		return "failed: " + *t.Err
	default:
		return "done " + formatTime(*t.Finished)
	}
}
