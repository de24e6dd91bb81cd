// Package action carries out remediation decisions. Every executor reports
// an outcome that the engine writes back into the attempt ledger.
package action

import (
	"context"
	"fmt"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Request is everything an executor may need.
type Request struct {
	JobID     domain.JobID
	RunID     int64
	Diagnosis domain.Diagnosis
	Decision  domain.Decision
	// History is the job's recent ledger history, oldest first.
	History []domain.AttemptRecord
	// LedgerFault marks an escalation of the ledger's own state.
	LedgerFault bool
}

// Executor performs one kind of action.
type Executor interface {
	Execute(ctx context.Context, req Request) (domain.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (domain.Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (domain.Outcome, error) {
	return f(ctx, req)
}

// Dispatcher re-triggers a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.JobID) error
}

// Syncer brings the content checkout level with the remote.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Registry maps actions to executors.
type Registry struct {
	executors map[domain.Action]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.Action]Executor)}
}

// Register sets the executor for action.
func (r *Registry) Register(action domain.Action, e Executor) {
	r.executors[action] = e
}

// Execute runs the executor registered for the request's decision.
func (r *Registry) Execute(ctx context.Context, req Request) (domain.Outcome, error) {
	action := req.Decision.Action
	if action == domain.ActionNoOp {
		return domain.OutcomeSkipped, nil
	}
	e, ok := r.executors[action]
	if !ok {
		return domain.OutcomeFailed, fmt.Errorf("no executor registered for %s", action)
	}
	return e.Execute(ctx, req)
}
