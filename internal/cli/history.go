package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/diagnosis/report"
)

var historyOpts struct {
	workflow string
	window   time.Duration
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a workflow's remediation attempts",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyOpts.workflow, "workflow", "", "workflow file or job name")
	historyCmd.Flags().DurationVar(&historyOpts.window, "window", 0, "only attempts within this window (default all)")
	_ = historyCmd.MarkFlagRequired("workflow")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	records, err := m.Ledger.History(cmd.Context(), domain.JobID(historyOpts.workflow), historyOpts.window)
	if err != nil {
		return err
	}

	if jsonOutput {
		if records == nil {
			records = []domain.AttemptRecord{}
		}
		return report.WriteJSON(cmd.OutOrStdout(), records)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tKIND\tACTION\tOUTCOME\tREASON")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.UTC().Format(time.RFC3339), r.Kind, r.Action, r.Outcome, r.Reason)
	}
	return w.Flush()
}
