package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/metrics"
)

// ScopeLedger marks tickets about the attempt ledger itself.
const ScopeLedger = "ledger"

// TicketKey identifies the escalation a ticket tracks. At most one ticket
// per key is open at a time.
type TicketKey struct {
	JobID domain.JobID
	Kind  domain.FailureKind
	Scope string
}

// Marker is a hidden tag embedded in ticket bodies to find them again.
func (k TicketKey) Marker() string {
	scope := ""
	if k.Scope != "" {
		scope = " scope=" + k.Scope
	}
	return fmt.Sprintf("<!-- workflow-monitor: job=%s kind=%s%s -->", k.JobID.Name(), k.Kind, scope)
}

// Draft is the content of a new ticket.
type Draft struct {
	Title  string
	Body   string
	Labels []string
}

// Ticketer files escalation tickets somewhere humans look.
type Ticketer interface {
	// FindOpen returns the unresolved ticket for key, or nil.
	FindOpen(ctx context.Context, key TicketKey) (*domain.Ticket, error)
	Create(ctx context.Context, key TicketKey, d Draft) (*domain.Ticket, error)
}

// Escalate hands the failure to a human by opening a ticket, unless one
// for the same job and kind is still unresolved.
type Escalate struct {
	Tickets Ticketer
	Labels  []string
	Clock   func() time.Time
}

// Execute files or deduplicates the ticket.
func (e *Escalate) Execute(ctx context.Context, req Request) (domain.Outcome, error) {
	key := TicketKey{JobID: req.JobID, Kind: req.Diagnosis.Kind}
	if req.LedgerFault {
		key.Scope = ScopeLedger
	}

	existing, err := e.Tickets.FindOpen(ctx, key)
	if err != nil {
		return domain.OutcomeFailed, fmt.Errorf("failed to look up open tickets: %w", err)
	}
	if existing != nil {
		metrics.EscalationsSuppressed.Inc()
		slog.Info("Escalation already open, not duplicating",
			"workflow", req.JobID,
			"kind", key.Kind,
			"ticket", existing.URL,
		)
		return domain.OutcomeSkipped, nil
	}

	now := time.Now
	if e.Clock != nil {
		now = e.Clock
	}
	draft, err := Render(key, req, now(), e.Labels)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	ticket, err := e.Tickets.Create(ctx, key, draft)
	if err != nil {
		return domain.OutcomeFailed, fmt.Errorf("failed to open ticket: %w", err)
	}
	slog.Warn("Escalated to a human",
		"workflow", req.JobID,
		"kind", key.Kind,
		"ticket", ticket.URL,
		"reason", req.Decision.Reason,
	)
	return domain.OutcomeSucceeded, nil
}
