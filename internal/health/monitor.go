package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/ledger"
	"github.com/vietddude/workflow-monitor/internal/remediation/policy"
)

// DefaultStuckAfter is how long a pending record may wait for its outcome.
const DefaultStuckAfter = 15 * time.Minute

// LedgerReader is the read side of the attempt ledger.
type LedgerReader interface {
	Snapshot(ctx context.Context) (*ledger.Document, error)
	Now() time.Time
}

// Monitor derives job health from ledger history.
type Monitor struct {
	ledger     LedgerReader
	policy     policy.Policy
	stuckAfter time.Duration
}

// NewMonitor creates a new health monitor.
func NewMonitor(l LedgerReader, p policy.Policy) *Monitor {
	return &Monitor{ledger: l, policy: p, stuckAfter: DefaultStuckAfter}
}

// CheckHealth evaluates every job in the ledger.
func (m *Monitor) CheckHealth(ctx context.Context) (HealthReport, error) {
	doc, err := m.ledger.Snapshot(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := m.ledger.Now()
	report := HealthReport{SystemStatus: StatusHealthy, CheckedAt: now}
	for _, job := range doc.JobIDs() {
		h := m.Evaluate(job, doc.Records(job), now)
		if h.Status.severity() > report.SystemStatus.severity() {
			report.SystemStatus = h.Status
		}
		report.Jobs = append(report.Jobs, h)
	}
	return report, nil
}

// Evaluate summarizes one job's records, oldest first.
func (m *Monitor) Evaluate(job domain.JobID, records []domain.AttemptRecord, now time.Time) JobHealth {
	health := JobHealth{
		JobID:       job,
		Status:      StatusHealthy,
		MaxAttempts: m.policy.Limits.MaxAttempts,
	}
	if len(records) == 0 {
		return health
	}

	newest := records[len(records)-1]
	ts := newest.Timestamp
	health.LastAction = newest.Action
	health.LastOutcome = newest.Outcome
	health.LastKind = newest.Kind
	health.LastAttempt = &ts

	var lastCounted *domain.AttemptRecord
	for i := range records {
		rec := &records[i]
		if rec.Outcome == domain.OutcomePending && now.Sub(rec.Timestamp) > m.stuckAfter {
			health.Pending++
		}
		if !rec.Counted() {
			continue
		}
		if now.Sub(rec.Timestamp) < m.policy.Limits.Window {
			health.AttemptsInWindow++
		}
		lastCounted = rec
	}

	if lastCounted != nil {
		until := lastCounted.Timestamp.Add(m.policy.CooldownFor(lastCounted.Kind))
		if nb := lastCounted.NotBefore; nb != nil && nb.After(until) {
			until = *nb
		}
		if until.After(now) {
			health.CoolingUntil = &until
		}
	}

	// Evaluate Status
	switch {
	case health.MaxAttempts > 0 && health.AttemptsInWindow >= health.MaxAttempts:
		health.Status = StatusCritical
		health.Reason = fmt.Sprintf("attempt cap reached (%d/%d)", health.AttemptsInWindow, health.MaxAttempts)
	case newest.Action == domain.ActionEscalate:
		health.Status = StatusCritical
		health.Reason = fmt.Sprintf("escalated: %s", newest.Kind)
	case health.Pending > 0:
		health.Status = StatusCritical
		health.Reason = fmt.Sprintf("%d attempt(s) stuck pending", health.Pending)
	case newest.Outcome == domain.OutcomeFailed:
		health.Status = StatusDegraded
		health.Reason = fmt.Sprintf("last %s failed", newest.Action)
	case health.CoolingUntil != nil || health.AttemptsInWindow > 0:
		health.Status = StatusDegraded
		health.Reason = fmt.Sprintf("recovering from %s", newest.Kind)
	}
	return health
}
