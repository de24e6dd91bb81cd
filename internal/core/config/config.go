package config

import (
	"time"

	gitinfra "github.com/vietddude/workflow-monitor/internal/infra/git"
	"github.com/vietddude/workflow-monitor/internal/infra/github"
	redisclient "github.com/vietddude/workflow-monitor/internal/infra/redis"
	"github.com/vietddude/workflow-monitor/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging     LoggingConfig      `yaml:"logging"`
	Repository  github.Config      `yaml:"repository"`
	Ledger      LedgerConfig       `yaml:"ledger"`
	Database    sqlstore.Config    `yaml:"database"`
	Redis       redisclient.Config `yaml:"redis"`
	LedgerGit   gitinfra.Config    `yaml:"ledger_git"`
	ContentRepo gitinfra.Config    `yaml:"content_repo"`
	Policy      PolicyConfig       `yaml:"policy"`
	Escalation  EscalationConfig   `yaml:"escalation"`
	Discovery   DiscoveryConfig    `yaml:"discovery"`
	Classifier  ClassifierConfig   `yaml:"classifier"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Serve       ServeConfig        `yaml:"serve"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Ledger backends.
const (
	LedgerBackendMemory = "memory"
	LedgerBackendFile   = "file"
	LedgerBackendGit    = "git"
	LedgerBackendSQL    = "sql"
	LedgerBackendRedis  = "redis"
)

// LedgerConfig selects and tunes the attempt ledger.
type LedgerConfig struct {
	Backend          string        `yaml:"backend"`
	Path             string        `yaml:"path"`              // file backend
	Retention        time.Duration `yaml:"retention"`         // audit history kept
	MaxRecordsPerJob int           `yaml:"max_records_per_job"`
	CommitRetries    int           `yaml:"commit_retries"`
	StaleClaimAfter  time.Duration `yaml:"stale_claim_after"` // file backend
}

// PolicyConfig holds the remediation policy. Every value is a tuning choice.
type PolicyConfig struct {
	Window      time.Duration               `yaml:"window"`
	MaxAttempts int                         `yaml:"max_attempts"`
	Cooldown    time.Duration               `yaml:"cooldown"`
	Kinds       map[string]KindPolicyConfig `yaml:"kinds"`
}

// KindPolicyConfig is the policy row for one failure kind.
// Overriding a kind replaces its whole row. A row without a cooldown uses
// the policy-wide cooldown.
type KindPolicyConfig struct {
	Action   string         `yaml:"action"`
	Wait     time.Duration  `yaml:"wait"`
	Cooldown *time.Duration `yaml:"cooldown"`
}

// Escalation backends.
const (
	EscalationBackendGitHub = "github"
	EscalationBackendLocal  = "local"
)

// EscalationConfig controls where escalation tickets go.
type EscalationConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"` // local backend
	Labels  []string `yaml:"labels"`
}

// DiscoveryConfig controls workflow auto-discovery.
type DiscoveryConfig struct {
	Dir     string   `yaml:"dir"`
	Markers []string `yaml:"markers"`
}

// ClassifierConfig extends the built-in classification rules.
type ClassifierConfig struct {
	ExtraPatterns map[string][]string `yaml:"extra_patterns"`
}

// MetricsConfig holds Pushgateway settings.
type MetricsConfig struct {
	PushURL string `yaml:"push_url"`
	Job     string `yaml:"job"`
}

// ServeConfig drives the long-running serve mode.
type ServeConfig struct {
	Addr          string        `yaml:"addr"` // health and /metrics listener
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}
