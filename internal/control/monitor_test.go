package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/workflow-monitor/internal/core/config"
	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/infra/storage/sqlstore"
	"github.com/vietddude/workflow-monitor/internal/remediation/engine"
)

func localConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.Backend = config.LedgerBackendFile
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "fix_attempts.json")
	cfg.Escalation.Backend = config.EscalationBackendLocal
	cfg.Escalation.Dir = filepath.Join(t.TempDir(), "escalations")
	return cfg
}

func TestNewMonitor_Local(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)

	m, err := NewMonitor(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	assert.Nil(t, m.GitHub)

	// Without a repository a retry is attempted and recorded as failed.
	res, err := m.Engine.Run(ctx, engine.Request{
		JobID:    "nba-news.yml",
		Evidence: &domain.Evidence{Log: "Error: empty response"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRetryNow, res.Decision.Action)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoRepository)

	// Escalations land in the local ticket dir.
	res, err = m.Engine.Run(ctx, engine.Request{
		JobID:    "stock-news.yml",
		Evidence: &domain.Evidence{Log: "remote: Permission to o/r.git denied to github-actions[bot]."},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEscalate, res.Decision.Action)
	assert.FileExists(t, filepath.Join(cfg.Escalation.Dir, "stock-news--permission_denied.md"))
	assert.FileExists(t, cfg.Ledger.Path)

	report, err := m.Health.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Jobs, 2)
}

func TestNewMonitor_GitHubEscalationFallsBackToLocal(t *testing.T) {
	cfg := localConfig(t)
	cfg.Escalation.Backend = config.EscalationBackendGitHub

	m, err := NewMonitor(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Engine.Run(context.Background(), engine.Request{JobID: "nba-news", Evidence: &domain.Evidence{}})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.Escalation.Dir, "nba-news--unknown.md"))
}

func TestNewMonitor_SQLite(t *testing.T) {
	cfg := localConfig(t)
	cfg.Ledger.Backend = config.LedgerBackendSQL
	cfg.Database = sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		URL:    domain.Secret("file:" + filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000"),
	}

	m, err := NewMonitor(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	kind := domain.FailureKindGitConflict
	res, err := m.Engine.Run(context.Background(), engine.Request{JobID: "trade-watcher", Kind: &kind})
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	history, err := m.Ledger.History(context.Background(), "trade-watcher", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestNewMonitor_RedisUnavailable(t *testing.T) {
	cfg := localConfig(t)
	cfg.Ledger.Backend = config.LedgerBackendRedis

	_, err := NewMonitor(context.Background(), cfg)
	assert.Error(t, err)
}

func TestMonitor_Jobs(t *testing.T) {
	cfg := localConfig(t)
	cfg.Discovery.Dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Discovery.Dir, "nba-news.yml"), []byte("run: python generate_newsfeed.py"), 0o644))

	m, err := NewMonitor(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	jobs, err := m.Jobs("")
	require.NoError(t, err)
	assert.Equal(t, []domain.JobID{"nba-news.yml"}, jobs)

	jobs, err = m.Jobs("trade-watcher.yml")
	require.NoError(t, err)
	assert.Equal(t, []domain.JobID{"trade-watcher.yml"}, jobs)

	cfg.Discovery.Markers = []string{"nothing-matches"}
	_, err = m.Jobs("")
	assert.Error(t, err)
}
