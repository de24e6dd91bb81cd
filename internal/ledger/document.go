package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// SchemaVersion is the on-disk document format.
const SchemaVersion = 1

// Document is the full persisted ledger.
type Document struct {
	Schema int `json:"schema"`
	// Revision is bumped by stores that keep it inside the document.
	Revision int64                      `json:"revision"`
	Jobs     map[domain.JobID]*JobLedger `json:"jobs"`
}

// JobLedger holds the chronological attempts of one job.
type JobLedger struct {
	Attempts    []domain.AttemptRecord `json:"attempts"`
	LastAttempt *time.Time             `json:"last_attempt,omitempty"`
}

// NewDocument returns an empty ledger document.
func NewDocument() *Document {
	return &Document{Schema: SchemaVersion, Jobs: make(map[domain.JobID]*JobLedger)}
}

// Decode parses a stored document. Empty input yields an empty document.
func Decode(data []byte) (*Document, error) {
	doc := NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	if doc.Schema == 0 {
		doc.Schema = SchemaVersion
	}
	if doc.Schema > SchemaVersion {
		return nil, fmt.Errorf("ledger schema %d is newer than supported %d", doc.Schema, SchemaVersion)
	}
	if doc.Jobs == nil {
		doc.Jobs = make(map[domain.JobID]*JobLedger)
	}
	return doc, nil
}

// Encode renders the document as indented JSON. Map keys are sorted by
// encoding/json, which keeps diffs stable.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{Schema: d.Schema, Revision: d.Revision, Jobs: make(map[domain.JobID]*JobLedger, len(d.Jobs))}
	for id, jl := range d.Jobs {
		cp := &JobLedger{Attempts: slices.Clone(jl.Attempts)}
		if jl.LastAttempt != nil {
			t := *jl.LastAttempt
			cp.LastAttempt = &t
		}
		out.Jobs[id] = cp
	}
	return out
}

// Records returns the job's records in chronological order.
func (d *Document) Records(job domain.JobID) []domain.AttemptRecord {
	jl, ok := d.Jobs[job]
	if !ok {
		return nil
	}
	return slices.Clone(jl.Attempts)
}

// History returns the job's records newer than now-window. A non-positive
// window returns everything.
func (d *Document) History(job domain.JobID, window time.Duration, now time.Time) []domain.AttemptRecord {
	records := d.Records(job)
	if window <= 0 {
		return records
	}
	cutoff := now.Add(-window)
	out := records[:0]
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Append adds a record at the end of the job's sequence. Records must not go
// back in time relative to the job's newest record.
func (d *Document) Append(rec domain.AttemptRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("attempt record without job id")
	}
	jl, ok := d.Jobs[rec.JobID]
	if !ok {
		jl = &JobLedger{}
		d.Jobs[rec.JobID] = jl
	}
	if n := len(jl.Attempts); n > 0 && rec.Timestamp.Before(jl.Attempts[n-1].Timestamp) {
		// Clock skew between runners; keep commit order monotonic.
		rec.Timestamp = jl.Attempts[n-1].Timestamp
	}
	jl.Attempts = append(jl.Attempts, rec)
	ts := rec.Timestamp
	jl.LastAttempt = &ts
	return nil
}

// Finalize moves a pending record to a terminal outcome.
func (d *Document) Finalize(job domain.JobID, id string, outcome domain.Outcome, at time.Time) error {
	if !outcome.Terminal() {
		return fmt.Errorf("outcome %q is not terminal", outcome)
	}
	jl, ok := d.Jobs[job]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrRecordNotFound, job)
	}
	for i := range jl.Attempts {
		if jl.Attempts[i].ID != id {
			continue
		}
		if jl.Attempts[i].Outcome != domain.OutcomePending {
			return fmt.Errorf("record %s already finalized as %s", id, jl.Attempts[i].Outcome)
		}
		jl.Attempts[i].Outcome = outcome
		finished := at
		jl.Attempts[i].FinishedAt = &finished
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// PruneOptions bounds how much history a document keeps.
type PruneOptions struct {
	// Retention drops records older than this. Zero keeps everything.
	Retention time.Duration

	// MaxPerJob caps the records kept per job, evicting the oldest first.
	MaxPerJob int

	// Protect shields records younger than this from MaxPerJob, so the
	// rate-limit gate always sees the history it decides on.
	Protect time.Duration
}

// Prune drops expired records and trims each job to opts.MaxPerJob. It
// returns the number of records removed.
func (d *Document) Prune(now time.Time, opts PruneOptions) int {
	removed := 0
	cutoff := now.Add(-opts.Retention)
	protected := now.Add(-opts.Protect)
	for id, jl := range d.Jobs {
		kept := jl.Attempts[:0]
		for _, r := range jl.Attempts {
			if opts.Retention > 0 && r.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if opts.MaxPerJob > 0 && len(kept) > opts.MaxPerJob {
			excess := len(kept) - opts.MaxPerJob
			drop := 0
			for drop < excess && (opts.Protect <= 0 || kept[drop].Timestamp.Before(protected)) {
				drop++
			}
			removed += drop
			kept = kept[drop:]
		}
		jl.Attempts = kept
		if len(jl.Attempts) == 0 {
			delete(d.Jobs, id)
		}
	}
	return removed
}

// JobIDs returns the ledger's jobs in sorted order.
func (d *Document) JobIDs() []domain.JobID {
	ids := make([]domain.JobID, 0, len(d.Jobs))
	for id := range d.Jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
