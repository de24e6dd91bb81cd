package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Retry re-triggers the job immediately. The outcome is that of the trigger
// call, not of the new run.
type Retry struct {
	Dispatcher Dispatcher
}

// Execute dispatches the job.
func (r *Retry) Execute(ctx context.Context, req Request) (domain.Outcome, error) {
	if err := r.Dispatcher.Dispatch(ctx, req.JobID); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("failed to retrigger %s: %w", req.JobID, err)
	}
	slog.Info("Retriggered workflow", "workflow", req.JobID, "kind", req.Diagnosis.Kind)
	return domain.OutcomeSucceeded, nil
}

// Wait defers the retry. Nothing sleeps: the decision's NotBefore is stored
// in the ledger and a later sweep re-triggers the job once it has passed.
type Wait struct{}

// Execute records nothing beyond the ledger entry itself.
func (Wait) Execute(_ context.Context, req Request) (domain.Outcome, error) {
	attrs := []any{"workflow", req.JobID, "kind", req.Diagnosis.Kind}
	if nb := req.Decision.NotBefore; nb != nil {
		attrs = append(attrs, "not_before", nb.UTC().Format(time.RFC3339))
	}
	slog.Info("Deferred retry", attrs...)
	return domain.OutcomeSucceeded, nil
}

// Rebase syncs the content checkout onto the remote state, then
// re-triggers the job. Without a syncer it only re-triggers.
type Rebase struct {
	Syncer     Syncer
	Dispatcher Dispatcher
}

// Execute syncs and dispatches.
func (r *Rebase) Execute(ctx context.Context, req Request) (domain.Outcome, error) {
	if r.Syncer != nil {
		if err := r.Syncer.Sync(ctx); err != nil {
			return domain.OutcomeFailed, fmt.Errorf("failed to sync checkout: %w", err)
		}
	}
	if err := r.Dispatcher.Dispatch(ctx, req.JobID); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("failed to retrigger %s: %w", req.JobID, err)
	}
	slog.Info("Rebased and retriggered workflow", "workflow", req.JobID)
	return domain.OutcomeSucceeded, nil
}
