package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/workflow-monitor/internal/control"
	"github.com/vietddude/workflow-monitor/internal/core/config"
	"github.com/vietddude/workflow-monitor/internal/metrics"
)

var (
	cfgPath       string
	isDebug       bool
	jsonOutput    bool
	ledgerBackend string
	ledgerPath    string

	// appCfg is set once the command's configuration is loaded.
	appCfg *config.AppConfig
)

// errActionFailed marks an invocation whose remediation action failed.
var errActionFailed = errors.New("remediation action failed")

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Workflow failure monitor",
	Long: `Monitor diagnoses failed scheduled workflows and remediates them within
a rate limit, keeping every attempt in a shared ledger.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	pushMetrics()
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output on stdout")
	rootCmd.PersistentFlags().StringVar(&ledgerBackend, "ledger", "", "ledger backend override (memory, file, git, sql, redis)")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger-path", "", "ledger file override for the file backend")
}

func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.LoadOrDefault(cfgPath, cmd.Flag("config").Changed)
	if err != nil {
		stylelog.InitDefault()
		return err
	}
	if ledgerBackend != "" {
		cfg.Ledger.Backend = ledgerBackend
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	if err := cfg.Validate(); err != nil {
		stylelog.InitDefault()
		return fmt.Errorf("invalid config: %w", err)
	}

	initLogging(cfg.Logging)
	appCfg = cfg
	slog.Debug("Configuration loaded", "config", cfgPath, "ledger", cfg.Ledger.Backend)
	return nil
}

// initLogging keeps stdout free for reports in JSON mode.
func initLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if isDebug {
		level = slog.LevelDebug
	}

	switch {
	case cfg.Format == "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	case jsonOutput:
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})))
	default:
		stylelog.InitDefault(&tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
}

func openMonitor(cmd *cobra.Command) (*control.Monitor, error) {
	m, err := control.NewMonitor(cmd.Context(), appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitor: %w", err)
	}
	return m, nil
}

func closeMonitor(m *control.Monitor) {
	if err := m.Close(); err != nil {
		slog.Warn("Error closing monitor", "error", err)
	}
}

func reportError(err error) {
	slog.Error("Command failed", "error", err)
	if hints := errors.FlattenHints(err); hints != "" {
		for _, h := range strings.Split(hints, "\n") {
			_, _ = fmt.Fprintln(os.Stderr, "hint:", h)
		}
	}
}

func pushMetrics() {
	if appCfg == nil || appCfg.Metrics.PushURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grouping := map[string]string{}
	if r := appCfg.Repository; r.Owner != "" {
		grouping["repository"] = r.Owner + "/" + r.Name
	}
	if err := metrics.Push(ctx, appCfg.Metrics.PushURL, appCfg.Metrics.Job, grouping); err != nil {
		slog.Warn("Failed to push metrics", "error", err)
	}
}
