package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/vietddude/workflow-monitor/internal/ledger"
)

// LedgerStore keeps the ledger document in process memory. It honours the
// same compare-and-swap contract as the durable stores.
type LedgerStore struct {
	mu       sync.Mutex
	data     []byte
	revision int64
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Load returns a decoded copy of the stored document.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := ledger.Decode(s.data)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.Snapshot{Doc: doc, Revision: s.rev()}, nil
}

// Save stores doc if expected matches the current revision.
func (s *LedgerStore) Save(ctx context.Context, doc *ledger.Document, expected ledger.Revision) (ledger.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expected != s.rev() {
		return "", ledger.ErrConflict
	}

	next := doc.Clone()
	next.Revision = s.revision + 1
	data, err := next.Encode()
	if err != nil {
		return "", err
	}
	s.data = data
	s.revision++
	return s.rev(), nil
}

func (s *LedgerStore) rev() ledger.Revision {
	if s.revision == 0 {
		return ""
	}
	return ledger.Revision(strconv.FormatInt(s.revision, 10))
}
