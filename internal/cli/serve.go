package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/workflow-monitor/internal/control"
	"github.com/vietddude/workflow-monitor/internal/health"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health and metrics while sweeping deferred retries and pruning the ledger",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	addr := appCfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return health.NewServer(m.Health, addr).Start(ctx)
	})
	g.Go(func() error {
		return m.Pruner(appCfg.Serve.PruneInterval).Start(ctx)
	})
	g.Go(func() error {
		sweepLoop(ctx, m, appCfg.Serve.SweepInterval)
		return nil
	})
	return g.Wait()
}

// sweepLoop runs deferred retries until ctx ends. Failures are logged and
// left for the next tick.
func sweepLoop(ctx context.Context, m *control.Monitor, interval time.Duration) {
	interval = max(interval, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("[Sweep] Started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Sweep] Stopped")
			return
		case <-ticker.C:
			results, err := m.Engine.Sweep(ctx)
			if err != nil {
				slog.Error("[Sweep] Failed", "error", err)
				continue
			}
			for _, r := range results {
				if r.Err != nil {
					slog.Warn("[Sweep] Deferred retry failed", "job", r.Diagnosis.JobID, "error", r.Err)
				}
			}
			if len(results) > 0 {
				slog.Info("[Sweep] Completed", "retried", len(results))
			}
		}
	}
}
