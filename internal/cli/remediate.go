package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/diagnosis/report"
	"github.com/vietddude/workflow-monitor/internal/remediation/engine"
)

var remediateOpts struct {
	workflow    string
	failureType string
	runID       int64
	logFile     string
	dryRun      bool
}

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Decide and apply a remediation for a failed workflow",
	Long: `Remediate classifies the failure (or takes --failure-type), decides an
action against the workflow's attempt history and applies it. With --dry-run
the decision is printed and nothing is recorded or executed.`,
	RunE: runRemediate,
}

func init() {
	f := remediateCmd.Flags()
	f.StringVar(&remediateOpts.workflow, "workflow", "", "workflow file or job name")
	f.StringVar(&remediateOpts.failureType, "failure-type", "", "failure kind, skips classification")
	f.Int64Var(&remediateOpts.runID, "run-id", 0, "failed run to remediate (default latest)")
	f.StringVar(&remediateOpts.logFile, "log-file", "", "read evidence from a file, - for stdin")
	f.BoolVar(&remediateOpts.dryRun, "dry-run", false, "print the decision without acting")
	_ = remediateCmd.MarkFlagRequired("workflow")
	rootCmd.AddCommand(remediateCmd)
}

func runRemediate(cmd *cobra.Command, args []string) error {
	req := engine.Request{
		JobID:  domain.JobID(remediateOpts.workflow),
		RunID:  remediateOpts.runID,
		DryRun: remediateOpts.dryRun,
	}
	if remediateOpts.failureType != "" {
		kind, err := domain.ParseFailureKind(remediateOpts.failureType)
		if err != nil {
			return errors.WithHint(err, "valid kinds: permission_denied, missing_secret, api_quota, empty_response, encoding_error, git_conflict, unknown")
		}
		req.Kind = &kind
	}
	if remediateOpts.logFile != "" {
		ev, err := readEvidence(cmd, remediateOpts.logFile, req.JobID, req.RunID)
		if err != nil {
			return err
		}
		req.Evidence = &ev
	}

	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	res, err := m.Engine.Run(cmd.Context(), req)
	if err != nil {
		if res.Decision.Action != "" {
			_ = writeResult(cmd.OutOrStdout(), res)
		}
		return err
	}
	if err := writeResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Err != nil {
		return errors.Wrapf(errActionFailed, "%s: %v", res.Decision.Action, res.Err)
	}
	return nil
}

type resultView struct {
	engine.Result
	Error string `json:"error,omitempty"`
}

func writeResult(w io.Writer, res engine.Result) error {
	if jsonOutput {
		v := resultView{Result: res}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		return report.WriteJSON(w, v)
	}

	d, dec := res.Diagnosis, res.Decision
	fmt.Fprintf(w, "Workflow:  %s\n", d.JobID)
	fmt.Fprintf(w, "Failure:   %s (confidence %.2f)\n", d.Kind, d.Confidence)
	if d.Excerpt != "" {
		fmt.Fprintf(w, "Evidence:  %s\n", d.Excerpt)
	}
	action := string(dec.Action)
	if dec.Planned != "" {
		action = fmt.Sprintf("%s (dry run, would %s)", dec.Action, dec.Planned)
	}
	if dec.Forced {
		action += " [forced]"
	}
	fmt.Fprintf(w, "Decision:  %s\n", action)
	fmt.Fprintf(w, "Reason:    %s\n", dec.Reason)
	if dec.NotBefore != nil {
		fmt.Fprintf(w, "Not before: %s\n", dec.NotBefore.UTC().Format(time.RFC3339))
	}
	_, err := fmt.Fprintf(w, "Outcome:   %s\n", res.Outcome)
	return err
}
