package ledger

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrConflict is returned by Store.Save when the stored revision moved
	// since the snapshot was loaded.
	ErrConflict = errors.New("ledger revision conflict")

	// ErrContention is returned when a ledger update kept conflicting past
	// its retry budget. It is a meta-failure of the ledger itself.
	ErrContention = errors.New("ledger contention")

	// ErrRecordNotFound is returned when finalizing an unknown record.
	ErrRecordNotFound = errors.New("attempt record not found")

	// ErrNoChange lets an update function skip the commit.
	ErrNoChange = errors.New("no ledger change")
)

// Revision is the compare-and-swap token of a store. The zero value means
// "nothing stored yet".
type Revision string

// Snapshot is a document together with the revision it was read at.
type Snapshot struct {
	Doc      *Document
	Revision Revision
}

// Store persists the ledger document with optimistic concurrency.
type Store interface {
	// Load reads the current document and its revision.
	Load(ctx context.Context) (Snapshot, error)

	// Save commits doc if the stored revision still equals expected and
	// returns the new revision. It returns ErrConflict otherwise.
	Save(ctx context.Context, doc *Document, expected Revision) (Revision, error)
}
