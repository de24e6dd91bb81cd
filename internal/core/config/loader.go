package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "monitor.yaml"

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Ledger: LedgerConfig{
			Backend:          LedgerBackendFile,
			Path:             ".github/fix_attempts.json",
			Retention:        7 * 24 * time.Hour,
			MaxRecordsPerJob: 50,
			CommitRetries:    3,
			StaleClaimAfter:  2 * time.Minute,
		},
		Policy: PolicyConfig{
			Window:      60 * time.Minute,
			MaxAttempts: 3,
			Cooldown:    60 * time.Minute,
			Kinds: map[string]KindPolicyConfig{
				string(domain.FailureKindPermissionDenied): {Action: string(domain.ActionEscalate)},
				string(domain.FailureKindMissingSecret):    {Action: string(domain.ActionEscalate)},
				string(domain.FailureKindAPIQuota): {
					Action: string(domain.ActionWaitAndRetry),
					Wait:   120 * time.Minute,
				},
				// Transient kinds are bounded by the attempt cap alone.
				string(domain.FailureKindEmptyResponse): {Action: string(domain.ActionRetryNow), Cooldown: durationPtr(0)},
				string(domain.FailureKindEncodingError): {Action: string(domain.ActionRetryNow), Cooldown: durationPtr(0)},
				string(domain.FailureKindGitConflict):   {Action: string(domain.ActionRebaseAndRetry)},
				string(domain.FailureKindUnknown): {Action: string(domain.ActionEscalate)},
			},
		},
		Escalation: EscalationConfig{
			Backend: EscalationBackendGitHub,
			Dir:     "reports/escalations",
			Labels:  []string{"bug", "auto-monitor"},
		},
		Discovery: DiscoveryConfig{
			Dir:     ".github/workflows",
			Markers: []string{"generate_newsfeed.py", "generate_trades.py"},
		},
		Metrics: MetricsConfig{Job: "workflow_monitor"},
		Serve: ServeConfig{
			Addr:          ":9090",
			SweepInterval: 5 * time.Minute,
			PruneInterval: time.Hour,
		},
	}
}

// Load reads configuration from a YAML file on top of Default.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file is the
// implicit default and does not exist.
func LoadOrDefault(path string, explicit bool) (*AppConfig, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
	}
	return Load(path)
}

func (c *AppConfig) applyDefaults() {
	def := Default()
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = def.Ledger.Backend
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = def.Ledger.Path
	}
	if c.Ledger.CommitRetries == 0 {
		c.Ledger.CommitRetries = def.Ledger.CommitRetries
	}
	if c.Ledger.MaxRecordsPerJob == 0 {
		c.Ledger.MaxRecordsPerJob = def.Ledger.MaxRecordsPerJob
	}
	if c.Ledger.StaleClaimAfter == 0 {
		c.Ledger.StaleClaimAfter = def.Ledger.StaleClaimAfter
	}
	if c.Policy.Window == 0 {
		c.Policy.Window = def.Policy.Window
	}
	if c.Policy.MaxAttempts == 0 {
		c.Policy.MaxAttempts = def.Policy.MaxAttempts
	}
	if c.Escalation.Backend == "" {
		c.Escalation.Backend = def.Escalation.Backend
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = def.Metrics.Job
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = def.Serve.Addr
	}
	if c.Serve.SweepInterval == 0 {
		c.Serve.SweepInterval = def.Serve.SweepInterval
	}
	if c.Serve.PruneInterval == 0 {
		c.Serve.PruneInterval = def.Serve.PruneInterval
	}

	// Retention never drops records the policy still needs.
	if lookback := c.PolicyLookback(); c.Ledger.Retention < lookback {
		c.Ledger.Retention = lookback
	}
}

// PolicyLookback is the oldest history the policy gate can consult.
func (c *AppConfig) PolicyLookback() time.Duration {
	lookback := max(c.Policy.Window, c.Policy.Cooldown)
	for _, k := range c.Policy.Kinds {
		lookback = max(lookback, k.Wait)
		if k.Cooldown != nil {
			lookback = max(lookback, *k.Cooldown)
		}
	}
	return lookback
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// Validate rejects settings the engine cannot honour.
func (c *AppConfig) Validate() error {
	if c.Policy.MaxAttempts < 0 {
		return fmt.Errorf("policy.max_attempts must be positive")
	}
	if c.Policy.Window < 0 || c.Policy.Cooldown < 0 {
		return fmt.Errorf("policy durations must not be negative")
	}
	for kind, row := range c.Policy.Kinds {
		if _, err := domain.ParseFailureKind(kind); err != nil {
			return fmt.Errorf("policy.kinds: %w", err)
		}
		action, err := domain.ParseAction(row.Action)
		if err != nil {
			return fmt.Errorf("policy.kinds.%s: %w", kind, err)
		}
		if action == domain.ActionNoOp {
			return fmt.Errorf("policy.kinds.%s: no_op is reserved for dry runs", kind)
		}
		if row.Wait < 0 || (row.Cooldown != nil && *row.Cooldown < 0) {
			return fmt.Errorf("policy.kinds.%s: durations must not be negative", kind)
		}
	}
	for kind := range c.Classifier.ExtraPatterns {
		if _, err := domain.ParseFailureKind(kind); err != nil {
			return fmt.Errorf("classifier.extra_patterns: %w", err)
		}
	}
	switch c.Ledger.Backend {
	case LedgerBackendMemory, LedgerBackendFile, LedgerBackendGit, LedgerBackendSQL, LedgerBackendRedis:
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.Ledger.Backend)
	}
	switch c.Escalation.Backend {
	case EscalationBackendGitHub, EscalationBackendLocal:
	default:
		return fmt.Errorf("escalation.backend %q is not supported", c.Escalation.Backend)
	}
	return nil
}
