package git

import (
	"context"
	"errors"
	"log/slog"
)

// ErrDiverged is returned when local and remote history both moved.
var ErrDiverged = errors.New("local branch has diverged from remote")

// ErrDirty is returned when the checkout has uncommitted changes.
var ErrDirty = errors.New("worktree has uncommitted changes")

// Syncer brings a content checkout level with its remote before a
// conflicted job is re-run.
type Syncer struct {
	repo *Repo
}

// NewSyncer creates a syncer over an opened checkout.
func NewSyncer(repo *Repo) *Syncer {
	return &Syncer{repo: repo}
}

// Sync fast-forwards onto the remote branch, or pushes local commits the
// remote does not have yet. Diverged history is never rewritten.
func (s *Syncer) Sync(ctx context.Context) error {
	clean, err := s.repo.Clean()
	if err != nil {
		return err
	}
	if !clean {
		return ErrDirty
	}

	if err := s.repo.Fetch(ctx); err != nil {
		return err
	}
	head, err := s.repo.Head()
	if err != nil {
		return err
	}
	tip, err := s.repo.Tip()
	if err != nil {
		return err
	}
	if head == tip {
		slog.Debug("Checkout already up to date", "commit", head.String())
		return nil
	}

	behind, err := s.repo.IsAncestor(head, tip)
	if err != nil {
		return err
	}
	if behind {
		slog.Info("Fast-forwarding checkout", "from", head.String()[:7], "to", tip.String()[:7])
		return s.repo.ResetHard(tip)
	}

	ahead, err := s.repo.IsAncestor(tip, head)
	if err != nil {
		return err
	}
	if ahead {
		slog.Info("Pushing local commits", "branch", s.repo.Config().Branch)
		return s.repo.Push(ctx)
	}
	return ErrDiverged
}
