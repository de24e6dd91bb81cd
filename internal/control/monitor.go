// Package control assembles the monitor from configuration.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/config"
	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/core/worker"
	"github.com/vietddude/workflow-monitor/internal/diagnosis/classifier"
	"github.com/vietddude/workflow-monitor/internal/health"
	gitinfra "github.com/vietddude/workflow-monitor/internal/infra/git"
	"github.com/vietddude/workflow-monitor/internal/infra/github"
	redisclient "github.com/vietddude/workflow-monitor/internal/infra/redis"
	"github.com/vietddude/workflow-monitor/internal/infra/storage/file"
	"github.com/vietddude/workflow-monitor/internal/infra/storage/memory"
	"github.com/vietddude/workflow-monitor/internal/infra/storage/sqlstore"
	"github.com/vietddude/workflow-monitor/internal/ledger"
	"github.com/vietddude/workflow-monitor/internal/remediation/action"
	"github.com/vietddude/workflow-monitor/internal/remediation/engine"
	"github.com/vietddude/workflow-monitor/internal/remediation/policy"
)

// ErrNoRepository is returned by operations that need the GitHub
// repository when none is configured.
var ErrNoRepository = errors.New("repository is not configured")

// Monitor holds every component of one invocation.
type Monitor struct {
	cfg        *config.AppConfig
	Ledger     *ledger.Ledger
	Policy     policy.Policy
	Classifier *classifier.Classifier
	Engine     *engine.Engine
	Health     *health.Monitor
	// GitHub is nil when no repository is configured.
	GitHub  *github.Client
	closers []func() error
}

// NewMonitor creates a Monitor with all dependencies initialized.
func NewMonitor(ctx context.Context, cfg *config.AppConfig) (*Monitor, error) {
	m := &Monitor{cfg: cfg}

	// 1. Policy and classifier
	var err error
	m.Policy, err = policy.FromConfig(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy: %w", err)
	}
	m.Classifier, err = classifier.New(cfg.Classifier.ExtraPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	// 2. Ledger
	store, err := m.newStore(ctx)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	m.Ledger = ledger.New(store, ledger.Options{
		CommitRetries:    cfg.Ledger.CommitRetries,
		Retention:        cfg.Ledger.Retention,
		MaxRecordsPerJob: cfg.Ledger.MaxRecordsPerJob,
		Protect:          m.Policy.Lookback(),
	})

	// 3. Orchestrator
	var evidence engine.EvidenceSource
	var dispatcher action.Dispatcher = unconfiguredDispatcher{}
	if cfg.Repository.Owner != "" && cfg.Repository.Name != "" {
		m.GitHub, err = github.NewClient(cfg.Repository)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to create github client: %w", err)
		}
		m.closers = append(m.closers, m.GitHub.Close)
		evidence = m.GitHub
		dispatcher = m.GitHub
		slog.Debug("Using GitHub repository", "repository", m.GitHub.Repository())
	}

	// 4. Actions
	var syncer action.Syncer
	if cfg.ContentRepo.Dir != "" {
		repo, err := gitinfra.Open(ctx, cfg.ContentRepo)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to open content repository: %w", err)
		}
		syncer = gitinfra.NewSyncer(repo)
	}

	escalate := &action.Escalate{
		Tickets: m.newTicketer(),
		Labels:  cfg.Escalation.Labels,
	}
	registry := action.NewRegistry()
	registry.Register(domain.ActionRetryNow, &action.Retry{Dispatcher: dispatcher})
	registry.Register(domain.ActionWaitAndRetry, action.Wait{})
	registry.Register(domain.ActionRebaseAndRetry, &action.Rebase{Syncer: syncer, Dispatcher: dispatcher})
	registry.Register(domain.ActionEscalate, escalate)

	// 5. Engine
	m.Engine = engine.New(engine.Deps{
		Ledger:     m.Ledger,
		Policy:     m.Policy,
		Classifier: m.Classifier,
		Evidence:   evidence,
		Actions:    registry,
		Escalator:  escalate,
	})
	m.Health = health.NewMonitor(m.Ledger, m.Policy)
	return m, nil
}

func (m *Monitor) newStore(ctx context.Context) (ledger.Store, error) {
	cfg := m.cfg
	switch cfg.Ledger.Backend {
	case config.LedgerBackendMemory:
		slog.Warn("Using memory ledger, history is lost on exit")
		return memory.NewLedgerStore(), nil

	case config.LedgerBackendFile:
		slog.Debug("Using file ledger", "path", cfg.Ledger.Path)
		return file.NewLedgerStore(cfg.Ledger.Path, cfg.Ledger.StaleClaimAfter), nil

	case config.LedgerBackendGit:
		repo, err := gitinfra.Open(ctx, cfg.LedgerGit)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger repository: %w", err)
		}
		slog.Debug("Using git ledger", "dir", cfg.LedgerGit.Dir, "file", repo.Config().File)
		return gitinfra.NewLedgerStore(repo), nil

	case config.LedgerBackendSQL:
		db, err := sqlstore.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		m.closers = append(m.closers, db.Close)
		slog.Debug("Using SQL ledger", "driver", cfg.Database.Driver)
		return sqlstore.NewLedgerStore(db.DB, cfg.Database.Name), nil

	case config.LedgerBackendRedis:
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		m.closers = append(m.closers, client.Close)
		slog.Debug("Using Redis ledger", "key", cfg.Redis.Key)
		return redisclient.NewLedgerStore(client, cfg.Redis.Key), nil
	}
	return nil, fmt.Errorf("ledger backend %q is not supported", cfg.Ledger.Backend)
}

func (m *Monitor) newTicketer() action.Ticketer {
	esc := m.cfg.Escalation
	if esc.Backend == config.EscalationBackendGitHub {
		if m.GitHub != nil {
			return action.NewGitHubTicketer(m.GitHub, searchLabel(esc.Labels))
		}
		slog.Warn("No repository configured, writing escalations locally", "dir", esc.Dir)
	}
	return action.NewLocalTicketer(esc.Dir)
}

// searchLabel narrows the open-issue search to the monitor's own label.
func searchLabel(labels []string) string {
	for _, l := range labels {
		if l == "auto-monitor" {
			return l
		}
	}
	if len(labels) > 0 {
		return labels[len(labels)-1]
	}
	return ""
}

// Jobs returns the workflows to inspect: the explicit one, or every
// discovered workflow.
func (m *Monitor) Jobs(explicit domain.JobID) ([]domain.JobID, error) {
	if explicit != "" {
		return []domain.JobID{explicit}, nil
	}
	jobs, err := classifier.Discover(m.cfg.Discovery.Dir, m.cfg.Discovery.Markers)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", m.cfg.Discovery.Dir)
	}
	return jobs, nil
}

// Pruner returns the retention worker. A zero interval prunes once.
func (m *Monitor) Pruner(interval time.Duration) *worker.Pruner {
	return worker.NewPruner(m.Ledger, interval)
}

// Close releases connections.
func (m *Monitor) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

type unconfiguredDispatcher struct{}

func (unconfiguredDispatcher) Dispatch(_ context.Context, job domain.JobID) error {
	return fmt.Errorf("cannot retrigger %s: %w", job, ErrNoRepository)
}
