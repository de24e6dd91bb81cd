// Package file stores the ledger as a diff-friendly JSON file, normally
// committed alongside the repository it monitors.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vietddude/workflow-monitor/internal/ledger"
)

// LedgerStore keeps the ledger in a JSON file. The revision lives inside the
// document; a commit claims the next revision by exclusively creating
// "<path>.rev-<n>" before renaming the new document into place.
type LedgerStore struct {
	path       string
	staleAfter time.Duration
}

// NewLedgerStore creates a file store at path.
func NewLedgerStore(path string, staleAfter time.Duration) *LedgerStore {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &LedgerStore{path: path, staleAfter: staleAfter}
}

// Path returns the ledger file location.
func (s *LedgerStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file is an empty ledger.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	doc, err := s.read()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.Snapshot{Doc: doc, Revision: revisionOf(doc.Revision)}, nil
}

// Save writes doc if the file is still at expected.
func (s *LedgerStore) Save(ctx context.Context, doc *ledger.Document, expected ledger.Revision) (ledger.Revision, error) {
	current, err := s.read()
	if err != nil {
		return "", err
	}
	if revisionOf(current.Revision) != expected {
		return "", ledger.ErrConflict
	}

	next := current.Revision + 1
	claim, err := s.claim(next)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = os.Remove(claim)
	}()

	// A writer that finished and released the same revision before we
	// claimed it has already moved the file on.
	current, err = s.read()
	if err != nil {
		return "", err
	}
	if revisionOf(current.Revision) != expected {
		return "", ledger.ErrConflict
	}

	out := doc.Clone()
	out.Revision = next
	if err := s.write(out); err != nil {
		return "", err
	}
	return revisionOf(next), nil
}

func (s *LedgerStore) claim(rev int64) (string, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create ledger directory: %w", err)
	}

	claim := fmt.Sprintf("%s.rev-%d", s.path, rev)
	f, err := os.OpenFile(claim, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
		_ = f.Close()
		return claim, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("failed to claim ledger revision: %w", err)
	}

	// Claims left behind by a crashed writer would block every later commit.
	if info, statErr := os.Stat(claim); statErr == nil && time.Since(info.ModTime()) > s.staleAfter {
		slog.Warn("Reclaiming stale ledger claim", "claim", claim, "age", time.Since(info.ModTime()).Round(time.Second))
		_ = os.Remove(claim)
	}
	return "", ledger.ErrConflict
}

func (s *LedgerStore) read() (*ledger.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	return ledger.Decode(data)
}

func (s *LedgerStore) write(doc *ledger.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod ledger file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

func revisionOf(rev int64) ledger.Revision {
	if rev == 0 {
		return ""
	}
	return ledger.Revision(strconv.FormatInt(rev, 10))
}
