package cli

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"btcgold-correlation/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily correlation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Trigger a single fetch, aggregate and render run",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().Once(cmd.Context())
		printReport(cmd.OutOrStdout(), report)
		return err
	},
}

// taskCommands builds one command per pipeline task, so an external scheduler
// can drive the stages separately.
func taskCommands() []*cobra.Command {
	short := map[pipeline.Task]string{
		pipeline.TaskIngest:    "Fetch both quotes and append one observation",
		pipeline.TaskAggregate: "Recompute the correlation over the full history",
		pipeline.TaskRender:    "Redraw the correlation chart from the results log",
	}

	cmds := make([]*cobra.Command, 0, len(pipeline.Tasks))
	for _, task := range pipeline.Tasks {
		cmds = append(cmds, &cobra.Command{
			Use:   string(task),
			Short: short[task],
			RunE: func(cmd *cobra.Command, args []string) error {
				report, err := getApp().RunTask(cmd.Context(), task)
				printReport(cmd.OutOrStdout(), report)
				return err
			},
		})
	}
	return cmds
}

func printReport(w io.Writer, report pipeline.RunReport) {
	if report.RunID == "" {
		return
	}
	if report.Skipped {
		fmt.Fprintf(w, "run %s skipped: another run holds the lock\n", report.RunID)
		return
	}
	fmt.Fprintf(w, "run %s %s in %s\n", report.RunID, report.State, report.Duration())
	if report.Result != nil {
		value := "NaN"
		if !math.IsNaN(report.Result.Value) {
			value = fmt.Sprintf("%.4f", report.Result.Value)
		}
		fmt.Fprintf(w, "correlation %s over %d samples\n", value, report.Result.SampleSize)
	}
	if report.Err != nil {
		fmt.Fprintf(w, "failed in %s\n", report.Stage)
	}
}
