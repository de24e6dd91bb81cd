package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/vietddude/workflow-monitor/internal/diagnosis/report"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry workflows whose deferred wait has elapsed",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	results, sweepErr := m.Engine.Sweep(cmd.Context())

	out := cmd.OutOrStdout()
	if jsonOutput {
		views := make([]resultView, 0, len(results))
		for _, r := range results {
			v := resultView{Result: r}
			if r.Err != nil {
				v.Error = r.Err.Error()
			}
			views = append(views, v)
		}
		if err := report.WriteJSON(out, views); err != nil {
			return err
		}
	} else {
		if len(results) == 0 {
			_, _ = fmt.Fprintln(out, "No deferred retries due")
		}
		for i, r := range results {
			if i > 0 {
				_, _ = fmt.Fprintln(out)
			}
			if err := writeResult(out, r); err != nil {
				return err
			}
		}
	}
	if sweepErr != nil {
		return sweepErr
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return errors.Wrapf(errActionFailed, "%d of %d deferred retries", failed, len(results))
	}
	return nil
}
