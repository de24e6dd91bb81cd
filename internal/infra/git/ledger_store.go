package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/vietddude/workflow-monitor/internal/ledger"
)

// LedgerStore versions the ledger file alongside the repository it
// monitors. The revision is the commit the document was read from; a save
// commits on top of it and pushes, and the remote rejecting a
// non-fast-forward push is the conflict signal.
type LedgerStore struct {
	repo *Repo
}

// NewLedgerStore creates a git ledger store over an opened checkout.
func NewLedgerStore(repo *Repo) *LedgerStore {
	return &LedgerStore{repo: repo}
}

// Load fetches and reads the ledger file from the tip of the branch.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	if err := s.repo.Fetch(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	tip, err := s.repo.Tip()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	doc, err := s.read(tip)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.Snapshot{Doc: doc, Revision: revisionOf(tip)}, nil
}

// Save commits doc on top of expected and pushes it.
func (s *LedgerStore) Save(ctx context.Context, doc *ledger.Document, expected ledger.Revision) (ledger.Revision, error) {
	if err := s.repo.Fetch(ctx); err != nil {
		return "", err
	}
	tip, err := s.repo.Tip()
	if err != nil {
		return "", err
	}
	if revisionOf(tip) != expected {
		return "", ledger.ErrConflict
	}

	current, err := s.read(tip)
	if err != nil {
		return "", err
	}
	if !tip.IsZero() {
		if err := s.repo.ResetHard(tip); err != nil {
			return "", err
		}
	}

	out := doc.Clone()
	out.Revision = current.Revision + 1
	data, err := out.Encode()
	if err != nil {
		return "", err
	}

	file := s.repo.Config().File
	msg := fmt.Sprintf("chore(monitor): update attempt ledger (revision %d)", out.Revision)
	hash, err := s.repo.CommitFile(file, data, msg)
	if err != nil {
		return "", err
	}

	if err := s.repo.Push(ctx); err != nil {
		if errors.Is(err, ErrRejected) {
			slog.Debug("Ledger push rejected", "commit", hash.String()[:7], "error", err)
			if !tip.IsZero() {
				if resetErr := s.repo.ResetHard(tip); resetErr != nil {
					return "", resetErr
				}
			}
			return "", ledger.ErrConflict
		}
		return "", err
	}
	return ledger.Revision(hash.String()), nil
}

func (s *LedgerStore) read(commit plumbing.Hash) (*ledger.Document, error) {
	if commit.IsZero() {
		return ledger.NewDocument(), nil
	}
	data, err := s.repo.ReadFile(commit, s.repo.Config().File)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.NewDocument(), nil
	}
	if err != nil {
		return nil, err
	}
	return ledger.Decode(data)
}

func revisionOf(commit plumbing.Hash) ledger.Revision {
	if commit.IsZero() {
		return ""
	}
	return ledger.Revision(commit.String())
}
