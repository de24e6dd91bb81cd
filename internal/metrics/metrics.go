// Package metrics holds the monitor's Prometheus collectors.
//
// Each invocation is a short-lived process, so collectors live on a
// dedicated registry that is pushed to a Pushgateway on exit.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry collects every monitor metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// DiagnosesTotal tracks classified failures per kind
	DiagnosesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_diagnoses_total",
			Help: "Total number of diagnosed workflow failures",
		},
		[]string{"kind"},
	)

	// DecisionsTotal tracks policy decisions
	DecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_decisions_total",
			Help: "Total number of remediation decisions",
		},
		[]string{"action", "forced"},
	)

	// ActionOutcomesTotal tracks what executed actions reported back
	ActionOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_action_outcomes_total",
			Help: "Total number of remediation action outcomes",
		},
		[]string{"action", "outcome"},
	)

	// EscalationsSuppressed tracks escalations deduplicated against an open ticket
	EscalationsSuppressed = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_escalations_suppressed_total",
			Help: "Escalations suppressed because an unresolved ticket exists",
		},
	)

	// LedgerCommitRetries tracks optimistic commits that lost a race
	LedgerCommitRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_ledger_commit_retries_total",
			Help: "Ledger commits retried after a concurrent write",
		},
	)

	// LedgerContention tracks updates that exhausted their retry budget
	LedgerContention = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_ledger_contention_total",
			Help: "Ledger updates abandoned after repeated conflicts",
		},
	)
)

// Push sends the registry to a Pushgateway. An empty url is a no-op.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(Registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
