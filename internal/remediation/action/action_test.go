package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/infra/github"
	"github.com/vietddude/workflow-monitor/internal/metrics"
)

// =============================================================================
// Mocks
// =============================================================================

type mockDispatcher struct {
	calls []domain.JobID
	err   error
}

func (m *mockDispatcher) Dispatch(_ context.Context, job domain.JobID) error {
	m.calls = append(m.calls, job)
	return m.err
}

type mockSyncer struct {
	calls int
	err   error
}

func (m *mockSyncer) Sync(context.Context) error {
	m.calls++
	return m.err
}

type mockIssues struct {
	open    *github.Issue
	created []github.IssueRequest
	markers []string
}

func (m *mockIssues) FindOpenIssue(_ context.Context, label, marker, _ string) (*github.Issue, error) {
	m.markers = append(m.markers, marker)
	return m.open, nil
}

func (m *mockIssues) CreateIssue(_ context.Context, req github.IssueRequest) (*github.Issue, error) {
	m.created = append(m.created, req)
	return &github.Issue{Number: int64(len(m.created)), Title: req.Title, HTMLURL: "https://example.test/issues/1"}, nil
}

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func request(kind domain.FailureKind, action domain.Action) Request {
	return Request{
		JobID: "stock-news.yml",
		RunID: 42,
		Diagnosis: domain.Diagnosis{
			JobID:   "stock-news.yml",
			Kind:    kind,
			Excerpt: "The requested URL returned error: 403",
		},
		Decision: domain.Decision{Action: action, Reason: "policy"},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestRegistry(t *testing.T) {
	d := &mockDispatcher{}
	r := NewRegistry()
	r.Register(domain.ActionRetryNow, &Retry{Dispatcher: d})

	out, err := r.Execute(context.Background(), request(domain.FailureKindEmptyResponse, domain.ActionRetryNow))
	if err != nil || out != domain.OutcomeSucceeded {
		t.Fatalf("unexpected result %s, %v", out, err)
	}
	if len(d.calls) != 1 || d.calls[0] != "stock-news.yml" {
		t.Errorf("unexpected dispatches %v", d.calls)
	}

	out, err = r.Execute(context.Background(), request(domain.FailureKindEmptyResponse, domain.ActionNoOp))
	if err != nil || out != domain.OutcomeSkipped {
		t.Errorf("no_op must be skipped, got %s, %v", out, err)
	}

	out, err = r.Execute(context.Background(), request(domain.FailureKindGitConflict, domain.ActionRebaseAndRetry))
	if err == nil || out != domain.OutcomeFailed {
		t.Errorf("expected failure for unregistered action, got %s, %v", out, err)
	}
}

func TestRetry_DispatchFails(t *testing.T) {
	d := &mockDispatcher{err: errors.New("github api 500")}
	out, err := (&Retry{Dispatcher: d}).Execute(context.Background(), request(domain.FailureKindEncodingError, domain.ActionRetryNow))
	if err == nil || out != domain.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s, %v", out, err)
	}
}

func TestWait(t *testing.T) {
	req := request(domain.FailureKindAPIQuota, domain.ActionWaitAndRetry)
	at := now.Add(2 * time.Hour)
	req.Decision.NotBefore = &at

	out, err := Wait{}.Execute(context.Background(), req)
	if err != nil || out != domain.OutcomeSucceeded {
		t.Errorf("unexpected result %s, %v", out, err)
	}
}

func TestRebase(t *testing.T) {
	tests := []struct {
		name       string
		syncErr    error
		want       domain.Outcome
		dispatches int
	}{
		{"synced", nil, domain.OutcomeSucceeded, 1},
		{"diverged", errors.New("local branch has diverged from remote"), domain.OutcomeFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSyncer{err: tt.syncErr}
			d := &mockDispatcher{}
			out, _ := (&Rebase{Syncer: s, Dispatcher: d}).Execute(context.Background(), request(domain.FailureKindGitConflict, domain.ActionRebaseAndRetry))
			if out != tt.want || len(d.calls) != tt.dispatches || s.calls != 1 {
				t.Errorf("got %s with %d dispatches, %d syncs", out, len(d.calls), s.calls)
			}
		})
	}

	d := &mockDispatcher{}
	out, err := (&Rebase{Dispatcher: d}).Execute(context.Background(), request(domain.FailureKindGitConflict, domain.ActionRebaseAndRetry))
	if err != nil || out != domain.OutcomeSucceeded || len(d.calls) != 1 {
		t.Errorf("expected dispatch without a syncer, got %s, %v", out, err)
	}
}

func TestEscalate_GitHub(t *testing.T) {
	issues := &mockIssues{}
	e := &Escalate{
		Tickets: NewGitHubTicketer(issues, "auto-monitor"),
		Labels:  []string{"bug", "auto-monitor"},
		Clock:   func() time.Time { return now },
	}

	req := request(domain.FailureKindPermissionDenied, domain.ActionEscalate)
	req.History = []domain.AttemptRecord{{
		Timestamp: now.Add(-time.Hour),
		Kind:      domain.FailureKindAPIQuota,
		Action:    domain.ActionWaitAndRetry,
		Outcome:   domain.OutcomeSucceeded,
	}}

	out, err := e.Execute(context.Background(), req)
	if err != nil || out != domain.OutcomeSucceeded {
		t.Fatalf("unexpected result %s, %v", out, err)
	}
	if len(issues.created) != 1 {
		t.Fatalf("expected one issue, got %d", len(issues.created))
	}

	issue := issues.created[0]
	if issue.Title != "[Auto-Monitor] Token Permission Error - stock-news.yml" {
		t.Errorf("unexpected title %q", issue.Title)
	}
	if strings.Join(issue.Labels, ",") != "bug,auto-monitor,security" {
		t.Errorf("unexpected labels %v", issue.Labels)
	}
	for _, want := range []string{
		"**Run ID**: 42",
		"**Evidence**: `The requested URL returned error: 403`",
		"gh run list --workflow=stock-news.yml --limit 1",
		"| 2026-10-18 11:00 UTC | api_quota | wait_and_retry | succeeded |",
		"<!-- workflow-monitor: job=stock-news kind=permission_denied -->",
	} {
		if !strings.Contains(issue.Body, want) {
			t.Errorf("body missing %q:\n%s", want, issue.Body)
		}
	}
}

func TestEscalate_Deduplicates(t *testing.T) {
	issues := &mockIssues{open: &github.Issue{Number: 7, HTMLURL: "https://example.test/issues/7"}}
	e := &Escalate{Tickets: NewGitHubTicketer(issues, "auto-monitor")}

	before := testutil.ToFloat64(metrics.EscalationsSuppressed)
	out, err := e.Execute(context.Background(), request(domain.FailureKindMissingSecret, domain.ActionEscalate))
	if err != nil || out != domain.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s, %v", out, err)
	}
	if len(issues.created) != 0 {
		t.Error("must not open a duplicate issue")
	}
	if got := testutil.ToFloat64(metrics.EscalationsSuppressed) - before; got != 1 {
		t.Errorf("suppressed counter moved by %v, want 1", got)
	}
	if issues.markers[0] != "<!-- workflow-monitor: job=stock-news kind=missing_secret -->" {
		t.Errorf("unexpected marker %q", issues.markers[0])
	}
}

func TestEscalate_Local(t *testing.T) {
	dir := t.TempDir()
	e := &Escalate{Tickets: NewLocalTicketer(dir), Labels: []string{"bug", "auto-monitor"}, Clock: func() time.Time { return now }}
	req := request(domain.FailureKindUnknown, domain.ActionEscalate)

	out, err := e.Execute(context.Background(), req)
	if err != nil || out != domain.OutcomeSucceeded {
		t.Fatalf("unexpected result %s, %v", out, err)
	}
	path := filepath.Join(dir, "stock-news--unknown.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ticket not written: %v", err)
	}
	if !strings.Contains(string(data), "gh run view 42 --log") || !strings.Contains(string(data), "Labels: bug, auto-monitor, needs-investigation") {
		t.Errorf("unexpected ticket:\n%s", data)
	}

	// Still open: suppressed.
	out, _ = e.Execute(context.Background(), req)
	if out != domain.OutcomeSkipped {
		t.Errorf("expected skipped while the ticket is open, got %s", out)
	}

	// Resolved by renaming: escalates again.
	if err := os.Rename(path, filepath.Join(dir, "stock-news--unknown.resolved.md")); err != nil {
		t.Fatal(err)
	}
	out, _ = e.Execute(context.Background(), req)
	if out != domain.OutcomeSucceeded {
		t.Errorf("expected a new ticket after resolution, got %s", out)
	}
}

func TestRender_ForcedAndLedgerFault(t *testing.T) {
	req := request(domain.FailureKindEmptyResponse, domain.ActionEscalate)
	req.Decision.Forced = true
	req.Decision.Reason = "attempt cap reached: 3 of 3 within 1h0m0s"

	d, err := Render(TicketKey{JobID: req.JobID, Kind: req.Diagnosis.Kind}, req, now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(d.Title, "Recurring Failure") || !strings.Contains(d.Body, "attempt cap reached") {
		t.Errorf("unexpected forced draft %q:\n%s", d.Title, d.Body)
	}

	key := TicketKey{JobID: req.JobID, Kind: domain.FailureKindGitConflict, Scope: ScopeLedger}
	d, err = Render(key, req, now, []string{"bug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(d.Title, "Attempt Ledger Contention") || !strings.Contains(d.Body, "scope=ledger") {
		t.Errorf("unexpected ledger draft %q:\n%s", d.Title, d.Body)
	}
}
