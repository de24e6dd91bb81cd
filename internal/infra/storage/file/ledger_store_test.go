package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/ledger"
)

func newStore(t *testing.T) *LedgerStore {
	t.Helper()
	return NewLedgerStore(filepath.Join(t.TempDir(), ".github", "fix_attempts.json"), time.Minute)
}

func attempt(job string, i int) domain.AttemptRecord {
	return domain.AttemptRecord{
		ID:        fmt.Sprintf("%s-%d", job, i),
		JobID:     domain.JobID(job),
		Kind:      domain.FailureKindGitConflict,
		Timestamp: time.Now().UTC(),
		Action:    domain.ActionRebaseAndRetry,
		Outcome:   domain.OutcomeSucceeded,
	}
}

func TestLedgerStore_LoadMissingFile(t *testing.T) {
	s := newStore(t)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Doc.Jobs)
	assert.Equal(t, ledger.Revision(""), snap.Revision)
}

func TestLedgerStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.Doc.Append(attempt("trade-watcher", 1)))

	rev, err := s.Save(ctx, snap.Doc, snap.Revision)
	require.NoError(t, err)
	assert.Equal(t, ledger.Revision("1"), rev)

	// Saving against the stale revision must conflict.
	_, err = s.Save(ctx, snap.Doc, snap.Revision)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev, reloaded.Revision)
	assert.Len(t, reloaded.Doc.Records("trade-watcher"), 1)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"jobs\": {")
}

func TestLedgerStore_HeldClaimConflicts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path()+".rev-1", []byte("42\n"), 0o644))

	_, err := s.Save(ctx, ledger.NewDocument(), "")
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// A fresh claim is left alone.
	_, statErr := os.Stat(s.Path() + ".rev-1")
	assert.NoError(t, statErr)
}

func TestLedgerStore_StaleClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	claim := s.Path() + ".rev-1"
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(claim, []byte("42\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(claim, old, old))

	_, err := s.Save(ctx, ledger.NewDocument(), "")
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// The retry after reclamation goes through.
	rev, err := s.Save(ctx, ledger.NewDocument(), "")
	require.NoError(t, err)
	assert.Equal(t, ledger.Revision("1"), rev)
}

func TestLedgerStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := ledger.New(s, ledger.Options{CommitRetries: 50})

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- l.Append(ctx, attempt("nba-news", i))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Records("nba-news"), writers, "no append may be lost")
	assert.Equal(t, int64(writers), doc.Revision)

	leftovers, err := filepath.Glob(s.Path() + ".rev-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
