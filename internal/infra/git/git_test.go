package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/ledger"
)

const testBranch = "master"

func requireGit(t *testing.T) {
	t.Helper()
	// go-git's file transport shells out to git-upload-pack/git-receive-pack.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initRepo(t *testing.T, dir string) *Repo {
	t.Helper()
	_, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	repo, err := Open(context.Background(), Config{Dir: dir, Branch: testBranch})
	require.NoError(t, err)
	return repo
}

// newRemote creates a bare remote seeded with one commit.
func newRemote(t *testing.T) string {
	t.Helper()
	bare := t.TempDir()
	_, err := gogit.PlainInit(bare, true)
	require.NoError(t, err)

	seed := initRepo(t, t.TempDir())
	_, err = seed.CommitFile("README.md", []byte("feeds\n"), "initial commit")
	require.NoError(t, err)
	_, err = seed.repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)
	require.NoError(t, seed.Push(context.Background()))
	return bare
}

func clone(t *testing.T, remote string) *Repo {
	t.Helper()
	repo, err := Open(context.Background(), Config{
		Dir:    filepath.Join(t.TempDir(), "checkout"),
		URL:    remote,
		Branch: testBranch,
	})
	require.NoError(t, err)
	return repo
}

func record(id string) domain.AttemptRecord {
	return domain.AttemptRecord{
		ID:        id,
		JobID:     "trade-watcher",
		Kind:      domain.FailureKindGitConflict,
		Timestamp: time.Now().UTC(),
		Action:    domain.ActionRebaseAndRetry,
		Outcome:   domain.OutcomeSucceeded,
	}
}

func TestLedgerStore_LocalOnly(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t, t.TempDir())
	s := NewLedgerStore(repo)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Revision(""), snap.Revision)

	require.NoError(t, snap.Doc.Append(record("a")))
	rev, err := s.Save(ctx, snap.Doc, snap.Revision)
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	_, err = s.Save(ctx, snap.Doc, snap.Revision)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev, reloaded.Revision)
	assert.Len(t, reloaded.Doc.Records("trade-watcher"), 1)

	data, err := os.ReadFile(filepath.Join(repo.Config().Dir, ".github", "fix_attempts.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trade-watcher"`)
}

func TestLedgerStore_RemoteConflict(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	remote := newRemote(t)
	a := NewLedgerStore(clone(t, remote))
	b := NewLedgerStore(clone(t, remote))

	snapA, err := a.Load(ctx)
	require.NoError(t, err)
	snapB, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, snapA.Revision, snapB.Revision)

	require.NoError(t, snapA.Doc.Append(record("a")))
	_, err = a.Save(ctx, snapA.Doc, snapA.Revision)
	require.NoError(t, err)

	require.NoError(t, snapB.Doc.Append(record("b")))
	_, err = b.Save(ctx, snapB.Doc, snapB.Revision)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// Through the ledger the losing writer re-reads and re-applies.
	l := ledger.New(b, ledger.Options{})
	require.NoError(t, l.Append(ctx, record("b")))

	doc, err := ledger.New(a, ledger.Options{}).Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Records("trade-watcher"), 2)
}

func TestSyncer_FastForward(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	remote := newRemote(t)
	upstream := clone(t, remote)
	local := clone(t, remote)

	_, err := upstream.CommitFile("data/trades.json", []byte("[]\n"), "update trades")
	require.NoError(t, err)
	require.NoError(t, upstream.Push(ctx))

	require.NoError(t, NewSyncer(local).Sync(ctx))

	want, err := upstream.Head()
	require.NoError(t, err)
	got, err := local.Head()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	_, err = os.Stat(filepath.Join(local.Config().Dir, "data", "trades.json"))
	assert.NoError(t, err)
}

func TestSyncer_Diverged(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	remote := newRemote(t)
	upstream := clone(t, remote)
	local := clone(t, remote)

	_, err := upstream.CommitFile("data/trades.json", []byte("[]\n"), "update trades")
	require.NoError(t, err)
	require.NoError(t, upstream.Push(ctx))
	_, err = local.CommitFile("data/news.json", []byte("[]\n"), "update news")
	require.NoError(t, err)

	assert.ErrorIs(t, NewSyncer(local).Sync(ctx), ErrDiverged)
}

func TestSyncer_Dirty(t *testing.T) {
	requireGit(t)
	local := clone(t, newRemote(t))
	require.NoError(t, os.WriteFile(filepath.Join(local.Config().Dir, "README.md"), []byte("edited\n"), 0o644))

	assert.ErrorIs(t, NewSyncer(local).Sync(context.Background()), ErrDirty)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
