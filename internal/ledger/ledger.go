// Package ledger keeps the durable, append-only history of remediation
// attempts per job.
//
// The ledger is shared by independent short-lived invocations. Every change
// is a read-modify-write against a Store with a compare-and-swap commit; a
// losing writer re-reads and re-applies its change a bounded number of times.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/metrics"
)

// Options tunes a Ledger.
type Options struct {
	CommitRetries    int
	Retention        time.Duration
	MaxRecordsPerJob int
	Clock            func() time.Time

	// Protect is the history the policy consults. The per-job cap never
	// evicts records inside it.
	Protect time.Duration
}

// Ledger is the attempt ledger on top of a Store.
type Ledger struct {
	store   Store
	retries int
	prune   PruneOptions
	clock   func() time.Time
}

// New creates a ledger over store.
func New(store Store, opts Options) *Ledger {
	if opts.CommitRetries <= 0 {
		opts.CommitRetries = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Ledger{
		store:   store,
		retries: opts.CommitRetries,
		prune:   PruneOptions{Retention: opts.Retention, MaxPerJob: opts.MaxRecordsPerJob, Protect: opts.Protect},
		clock:   opts.Clock,
	}
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Update applies fn to a fresh copy of the document and commits it. On a
// conflicting concurrent commit the document is re-read and fn re-applied,
// so fn must be a pure function of the document it receives.
func (l *Ledger) Update(ctx context.Context, fn func(doc *Document) error) error {
	for attempt := 1; attempt <= l.retries; attempt++ {
		snap, err := l.store.Load(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to load ledger")
		}

		doc := snap.Doc.Clone()
		if err := fn(doc); err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil
			}
			return err
		}

		if _, err := l.store.Save(ctx, doc, snap.Revision); err != nil {
			if errors.Is(err, ErrConflict) {
				metrics.LedgerCommitRetries.Inc()
				slog.Debug("Ledger commit conflicted, retrying", "attempt", attempt, "revision", snap.Revision)
				continue
			}
			return errors.Wrap(err, "failed to save ledger")
		}
		return nil
	}

	metrics.LedgerContention.Inc()
	err := errors.Wrapf(ErrContention, "gave up after %d conflicting commits", l.retries)
	return errors.WithHint(err, "another invocation kept committing to the ledger; inspect the ledger store before re-running")
}

// Append records an attempt and prunes expired history in the same commit.
func (l *Ledger) Append(ctx context.Context, rec domain.AttemptRecord) error {
	return l.Update(ctx, func(doc *Document) error {
		if err := doc.Append(rec); err != nil {
			return err
		}
		l.Tidy(doc, l.clock())
		return nil
	})
}

// Tidy prunes doc with the ledger's retention settings. Update functions
// call it to fold pruning into their own commit.
func (l *Ledger) Tidy(doc *Document, now time.Time) int {
	return doc.Prune(now, l.prune)
}

// Finalize sets the terminal outcome of a pending record.
func (l *Ledger) Finalize(ctx context.Context, job domain.JobID, id string, outcome domain.Outcome) error {
	return l.Update(ctx, func(doc *Document) error {
		return doc.Finalize(job, id, outcome, l.clock())
	})
}

// History returns the job's records within the trailing window, oldest first.
func (l *Ledger) History(ctx context.Context, job domain.JobID, window time.Duration) ([]domain.AttemptRecord, error) {
	doc, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return doc.History(job, window, l.clock()), nil
}

// Prune removes expired records and returns how many were dropped.
func (l *Ledger) Prune(ctx context.Context, now time.Time) (int, error) {
	var removed int
	err := l.Update(ctx, func(doc *Document) error {
		removed = l.Tidy(doc, now)
		if removed == 0 {
			return ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Snapshot returns a read-only copy of the whole document.
func (l *Ledger) Snapshot(ctx context.Context) (*Document, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger")
	}
	return snap.Doc.Clone(), nil
}
