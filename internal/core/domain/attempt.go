package domain

import (
	"fmt"
	"time"
)

// Action is a remediation the engine can take.
type Action string

const (
	ActionRetryNow       Action = "retry_now"
	ActionWaitAndRetry   Action = "wait_and_retry"
	ActionRebaseAndRetry Action = "rebase_and_retry"
	ActionEscalate       Action = "escalate"
	ActionNoOp           Action = "no_op"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRetryNow, ActionWaitAndRetry, ActionRebaseAndRetry, ActionEscalate, ActionNoOp:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// CountsTowardLimit reports whether the action is subject to the rate-limit gate.
func (a Action) CountsTowardLimit() bool {
	switch a {
	case ActionRetryNow, ActionWaitAndRetry, ActionRebaseAndRetry:
		return true
	}
	return false
}

// Outcome is the result an action reports back into the ledger.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeSkipped
}

// AttemptRecord is one entry of the attempt ledger.
//
// Records are append-only. The single permitted change is the transition of
// Outcome from pending to a terminal outcome once the action has reported.
type AttemptRecord struct {
	ID         string      `json:"id"`
	JobID      JobID       `json:"job_id"`
	Kind       FailureKind `json:"failure_kind"`
	Timestamp  time.Time   `json:"timestamp"`
	Action     Action      `json:"action"`
	Outcome    Outcome     `json:"outcome"`
	RunID      int64       `json:"run_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	NotBefore  *time.Time  `json:"not_before,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Counted reports whether the record counts toward the rate limit.
func (r AttemptRecord) Counted() bool {
	return r.Action.CountsTowardLimit()
}

// Decision is the policy engine's verdict for one diagnosis.
type Decision struct {
	Action Action `json:"action"`
	// Planned is the action a dry run would have taken.
	Planned   Action     `json:"planned,omitempty"`
	Reason    string     `json:"reason"`
	Forced    bool       `json:"forced"`
	NotBefore *time.Time `json:"not_before,omitempty"`
}
