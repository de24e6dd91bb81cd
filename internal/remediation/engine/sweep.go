package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Sweep re-triggers jobs whose deferred retry has come due: the newest
// counted record is a successful wait_and_retry whose NotBefore has passed.
// Each retry goes through the rate-limit gate like any other attempt.
func (e *Engine) Sweep(ctx context.Context) ([]Result, error) {
	doc, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, job := range doc.JobIDs() {
		rec, ok := dueRetry(doc.Records(job), e.ledger.Now())
		if !ok {
			continue
		}

		d := domain.Diagnosis{
			JobID:           job,
			RunID:           rec.RunID,
			Kind:            rec.Kind,
			Confidence:      1,
			SuggestedAction: domain.ActionRetryNow,
			Severity:        domain.SeverityMedium,
			Fixable:         true,
			Description:     "Deferred retry came due",
			Timestamp:       e.ledger.Now(),
		}
		res, err := e.remediate(ctx, d, func(records, history []domain.AttemptRecord, now time.Time) (domain.Decision, bool) {
			// Another sweep may have taken it since the snapshot.
			if _, still := dueRetry(records, now); !still {
				return domain.Decision{}, false
			}
			return e.policy.DecideAction(rec.Kind, domain.ActionRetryNow, history, now), true
		})
		if err != nil {
			return results, err
		}
		if res.Record == nil {
			slog.Debug("Deferred retry already handled", "workflow", job)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// dueRetry returns the newest counted record if it is a deferred retry
// whose wait has elapsed.
func dueRetry(records []domain.AttemptRecord, now time.Time) (domain.AttemptRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if !rec.Counted() {
			continue
		}
		if rec.Action != domain.ActionWaitAndRetry || rec.Outcome != domain.OutcomeSucceeded || rec.NotBefore == nil {
			return domain.AttemptRecord{}, false
		}
		return rec, !now.Before(*rec.NotBefore)
	}
	return domain.AttemptRecord{}, false
}
