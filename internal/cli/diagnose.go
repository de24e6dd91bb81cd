package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/vietddude/workflow-monitor/internal/control"
	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/diagnosis/report"
	"github.com/vietddude/workflow-monitor/internal/infra/github"
	"github.com/vietddude/workflow-monitor/internal/remediation/engine"
)

var diagnoseOpts struct {
	workflow string
	runID    int64
	logFile  string
	limit    int
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Classify failed workflow runs",
	Long: `Diagnose classifies a log file (or stdin with --log-file -), or the latest
failed runs of a workflow fetched from GitHub. Without --workflow every
discovered workflow is inspected.`,
	RunE: runDiagnose,
}

func init() {
	f := diagnoseCmd.Flags()
	f.StringVar(&diagnoseOpts.workflow, "workflow", "", "workflow file or job name")
	f.Int64Var(&diagnoseOpts.runID, "run-id", 0, "diagnose this run instead of the latest failures")
	f.StringVar(&diagnoseOpts.logFile, "log-file", "", "read evidence from a file, - for stdin")
	f.IntVar(&diagnoseOpts.limit, "limit", 1, "failed runs to inspect per workflow")
	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if diagnoseOpts.logFile != "" {
		job := domain.JobID(diagnoseOpts.workflow)
		if job == "" {
			job = jobFromPath(diagnoseOpts.logFile)
		}
		ev, err := readEvidence(cmd, diagnoseOpts.logFile, job, diagnoseOpts.runID)
		if err != nil {
			return err
		}
		d, err := m.Engine.Diagnose(ctx, engine.Request{JobID: job, Evidence: &ev})
		if err != nil {
			return err
		}
		if jsonOutput {
			return report.WriteJSON(out, d)
		}
		return report.WriteDiagnosis(out, d)
	}

	if m.GitHub == nil {
		return errors.WithHint(
			errors.Mark(control.ErrNoRepository, engine.ErrEvidenceUnavailable),
			"set repository.owner and repository.name, or pass --log-file",
		)
	}

	jobs, err := m.Jobs(domain.JobID(diagnoseOpts.workflow))
	if err != nil {
		return errors.Mark(err, engine.ErrEvidenceUnavailable)
	}
	reports := make([]report.Workflow, 0, len(jobs))
	var lastErr error
	for _, job := range jobs {
		diagnoses, err := diagnoseRuns(ctx, m, job)
		if err != nil {
			slog.Warn("Skipping workflow, no evidence", "workflow", job, "error", err)
			lastErr = err
			continue
		}
		reports = append(reports, report.NewWorkflow(job, diagnoses))
	}
	if len(reports) == 0 {
		return lastErr
	}

	if jsonOutput {
		return report.WriteJSON(out, reports)
	}
	return report.WriteText(out, reports)
}

func diagnoseRuns(ctx context.Context, m *control.Monitor, job domain.JobID) ([]domain.Diagnosis, error) {
	if diagnoseOpts.runID != 0 {
		d, err := m.Engine.Diagnose(ctx, engine.Request{JobID: job, RunID: diagnoseOpts.runID})
		if err != nil {
			return nil, err
		}
		return []domain.Diagnosis{d}, nil
	}

	runs, err := m.GitHub.ListFailedRuns(ctx, job, diagnoseOpts.limit)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to list runs of %s", job), engine.ErrEvidenceUnavailable)
	}
	diagnoses := make([]domain.Diagnosis, 0, len(runs))
	for _, run := range runs {
		d, err := m.Engine.Diagnose(ctx, engine.Request{JobID: job, RunID: run.ID})
		if errors.Is(err, engine.ErrEvidenceUnavailable) {
			// The run is known to have failed even without its logs.
			slog.Warn("Run logs unavailable", "workflow", job, "run_id", run.ID, "error", err)
			d = logsUnavailable(job, run, m.Ledger.Now())
		} else if err != nil {
			return nil, err
		}
		diagnoses = append(diagnoses, d)
	}
	return diagnoses, nil
}

func logsUnavailable(job domain.JobID, run github.Run, now time.Time) domain.Diagnosis {
	return domain.Diagnosis{
		JobID:           job,
		RunID:           run.ID,
		Kind:            domain.FailureKindUnknown,
		SuggestedAction: domain.ActionEscalate,
		Severity:        domain.SeverityMedium,
		Description:     "Logs unavailable, failure could not be classified",
		URL:             run.HTMLURL,
		Timestamp:       now,
	}
}

// readEvidence reads a log file, or stdin for "-".
func readEvidence(cmd *cobra.Command, path string, job domain.JobID, runID int64) (domain.Evidence, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.Evidence{}, errors.Mark(errors.Wrap(err, "failed to read log"), engine.ErrEvidenceUnavailable)
	}
	return domain.Evidence{
		JobID:     job,
		RunID:     runID,
		Log:       string(data),
		Timestamp: time.Now().UTC(),
	}, nil
}

func jobFromPath(path string) domain.JobID {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return domain.JobID(strings.TrimSuffix(base, filepath.Ext(base)))
}
