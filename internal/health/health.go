// Package health summarizes each job's remediation state from the ledger.
package health

import (
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// SystemStatus represents the health state of a job or of all jobs.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// severity orders statuses so the worst can be picked.
func (s SystemStatus) severity() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// JobHealth contains the remediation state of one job.
type JobHealth struct {
	JobID            domain.JobID       `json:"job_id"`
	Status           SystemStatus       `json:"status"`
	AttemptsInWindow int                `json:"attempts_in_window"`
	MaxAttempts      int                `json:"max_attempts"`
	LastAction       domain.Action      `json:"last_action,omitempty"`
	LastOutcome      domain.Outcome     `json:"last_outcome,omitempty"`
	LastKind         domain.FailureKind `json:"last_kind,omitempty"`
	LastAttempt      *time.Time         `json:"last_attempt,omitempty"`
	CoolingUntil     *time.Time         `json:"cooling_down_until,omitempty"`
	Pending          int                `json:"pending"`
	Reason           string             `json:"reason,omitempty"`
}

// HealthReport contains the summary for every job in the ledger.
type HealthReport struct {
	SystemStatus SystemStatus `json:"system_status"`
	CheckedAt    time.Time    `json:"checked_at"`
	Jobs         []JobHealth  `json:"jobs"`
}
