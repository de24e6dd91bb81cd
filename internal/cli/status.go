package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/workflow-monitor/internal/diagnosis/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the remediation health of every workflow in the ledger",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	health, err := m.Health.CheckHealth(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return report.WriteJSON(cmd.OutOrStdout(), health)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "WORKFLOW\tSTATUS\tATTEMPTS\tLAST\tCOOLING UNTIL\tREASON")
	for _, j := range health.Jobs {
		last := "-"
		if j.LastAttempt != nil {
			last = fmt.Sprintf("%s/%s %s", j.LastAction, j.LastOutcome, j.LastAttempt.UTC().Format(time.RFC3339))
		}
		cooling := "-"
		if j.CoolingUntil != nil {
			cooling = j.CoolingUntil.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			j.JobID, j.Status, j.AttemptsInWindow, j.MaxAttempts, last, cooling, j.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nSystem: %s\n", health.SystemStatus)
	return err
}
