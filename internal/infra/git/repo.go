// Package git wraps go-git for the two places the monitor touches a
// repository: the git-backed ledger store and the rebase syncer.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Config describes a local checkout and the remote it tracks.
type Config struct {
	Dir         string        `yaml:"dir"`
	URL         string        `yaml:"url"` // cloned into Dir when Dir is not a repository
	Remote      string        `yaml:"remote"`
	Branch      string        `yaml:"branch"`
	File        string        `yaml:"file"` // ledger file inside the checkout
	Token       domain.Secret `yaml:"token"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
}

func (c Config) withDefaults() Config {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.File == "" {
		c.File = ".github/fix_attempts.json"
	}
	if c.AuthorName == "" {
		c.AuthorName = "workflow-monitor"
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = "workflow-monitor@users.noreply.github.com"
	}
	return c
}

// Repo is an opened checkout.
type Repo struct {
	cfg  Config
	repo *gogit.Repository
}

// Open opens cfg.Dir, cloning cfg.URL into it first when it is not a
// repository yet.
func Open(ctx context.Context, cfg Config) (*Repo, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("git checkout dir is not set")
	}

	repo, err := gogit.PlainOpen(cfg.Dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) && cfg.URL != "" {
		if mkErr := os.MkdirAll(cfg.Dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create checkout dir: %w", mkErr)
		}
		repo, err = gogit.PlainCloneContext(ctx, cfg.Dir, false, &gogit.CloneOptions{
			URL:           cfg.URL,
			RemoteName:    cfg.Remote,
			ReferenceName: plumbing.NewBranchReferenceName(cfg.Branch),
			SingleBranch:  true,
			Auth:          auth(cfg.Token),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", cfg.URL, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", cfg.Dir, err)
	}
	return &Repo{cfg: cfg, repo: repo}, nil
}

// Config returns the checkout configuration with defaults applied.
func (r *Repo) Config() Config {
	return r.cfg
}

func auth(token domain.Secret) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token.Reveal()}
}

func (r *Repo) hasRemote() bool {
	_, err := r.repo.Remote(r.cfg.Remote)
	return err == nil
}

// Fetch updates the remote-tracking branch. It is a no-op without a remote.
func (r *Repo) Fetch(ctx context.Context) error {
	if !r.hasRemote() {
		return nil
	}
	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: r.cfg.Remote,
		Auth:       auth(r.cfg.Token),
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch %s: %w", r.cfg.Remote, err)
	}
	return nil
}

// Tip returns the commit the checkout should build on: the remote-tracking
// branch when a remote exists, the local branch otherwise. A branch without
// commits yields the zero hash.
func (r *Repo) Tip() (plumbing.Hash, error) {
	name := plumbing.NewBranchReferenceName(r.cfg.Branch)
	if r.hasRemote() {
		name = plumbing.NewRemoteReferenceName(r.cfg.Remote, r.cfg.Branch)
	}
	ref, err := r.repo.Reference(name, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	return ref.Hash(), nil
}

// Head returns the commit checked out locally.
func (r *Repo) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash(), nil
}

// ReadFile returns the content of path at commit. Missing files yield
// os.ErrNotExist.
func (r *Repo) ReadFile(commit plumbing.Hash, path string) ([]byte, error) {
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", commit, err)
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return []byte(content), nil
}

// ResetHard moves the current branch and worktree to commit.
func (r *Repo) ResetHard(commit plumbing.Hash) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Reset(&gogit.ResetOptions{Commit: commit, Mode: gogit.HardReset}); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", commit, err)
	}
	return nil
}

// CommitFile writes data to path in the worktree and commits it.
func (r *Repo) CommitFile(path string, data []byte, message string) (plumbing.Hash, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to open worktree: %w", err)
	}

	fs := wt.Filesystem
	if err := fs.MkdirAll(dirOf(path), 0o755); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create %s: %w", dirOf(path), err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to close %s: %w", path, err)
	}

	if _, err := wt.Add(path); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to stage %s: %w", path, err)
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  r.cfg.AuthorName,
			Email: r.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return hash, nil
}

// Push pushes the local branch. A rejected non-fast-forward update is
// reported as ErrRejected.
func (r *Repo) Push(ctx context.Context) error {
	if !r.hasRemote() {
		return nil
	}
	ref := plumbing.NewBranchReferenceName(r.cfg.Branch)
	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: r.cfg.Remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref.String() + ":" + ref.String())},
		Auth:       auth(r.cfg.Token),
	})
	switch {
	case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return nil
	case isRejected(err):
		return fmt.Errorf("%w: %v", ErrRejected, err)
	default:
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
}

// Clean reports whether the worktree has no local modifications.
func (r *Repo) Clean() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func (r *Repo) IsAncestor(a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	ca, err := r.repo.CommitObject(a)
	if err != nil {
		return false, fmt.Errorf("failed to load commit %s: %w", a, err)
	}
	cb, err := r.repo.CommitObject(b)
	if err != nil {
		return false, fmt.Errorf("failed to load commit %s: %w", b, err)
	}
	return ca.IsAncestor(cb)
}

// ErrRejected is returned when the remote refuses a push.
var ErrRejected = errors.New("push rejected by remote")

func isRejected(err error) bool {
	if errors.Is(err, gogit.ErrNonFastForwardUpdate) || errors.Is(err, gogit.ErrForceNeeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "rejected")
}

func dirOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return "."
}
