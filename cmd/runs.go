package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/runstore"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent runs, or the task instances of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger(cmd.Context())
			if err != nil {
				return err
			}

			store, err := runstore.Open(cfg.RunStore.Path, utils.RealTimeProvider{}, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				tasks, err := store.TaskInstances(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return writeTaskInstances(cmd.OutOrStdout(), tasks)
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the task instances of this run")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func writeRuns(out io.Writer, runs []runstore.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tLOGICAL DATE\tTRIGGER\tSTATE\tSTARTED\tFINISHED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.LogicalDate.Format(model.DateLayout), r.Trigger, r.State,
			formatTime(&r.StartedAt), formatTime(r.FinishedAt), r.Error)
	}
	return w.Flush()
}

func writeTaskInstances(out io.Writer, tasks []runstore.TaskInstance) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTRY\tSTATE\tSTARTED\tFINISHED\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			t.TaskID, t.Try, t.State, formatTime(&t.StartedAt), formatTime(t.FinishedAt), t.Error)
	}
	return w.Flush()
}
