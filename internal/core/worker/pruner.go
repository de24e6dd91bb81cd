package worker

import (
	"context"
	"log/slog"
	"time"
)

// LedgerPruner drops expired attempt records.
type LedgerPruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

// Pruner applies the ledger retention policy.
type Pruner struct {
	ledger   LedgerPruner
	interval time.Duration
}

// NewPruner creates a new Pruner worker. A zero interval prunes once.
func NewPruner(ledger LedgerPruner, interval time.Duration) *Pruner {
	return &Pruner{
		ledger:   ledger,
		interval: interval,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) error {
	if p.interval <= 0 {
		_, err := p.Prune(ctx)
		return err
	}

	// Keep long-running loops from hammering a shared store
	interval := max(p.interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	if _, err := p.Prune(ctx); err != nil {
		slog.Error("[Pruner] failed to prune ledger", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Prune(ctx); err != nil {
				slog.Error("[Pruner] failed to prune ledger", "error", err)
			}
		}
	}
}

// Prune runs one retention pass.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	removed, err := p.ledger.Prune(ctx, p.ledger.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("[Pruner] pruned ledger", "removed", removed)
	} else {
		slog.Debug("[Pruner] nothing to prune")
	}
	return removed, nil
}
