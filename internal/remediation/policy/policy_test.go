package policy

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/config"
	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

var t0 = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func diagnosis(job string, kind domain.FailureKind) domain.Diagnosis {
	return domain.Diagnosis{JobID: domain.JobID(job), Kind: kind}
}

// apply records dec the way the engine does.
func apply(history []domain.AttemptRecord, d domain.Diagnosis, dec domain.Decision, at time.Time) []domain.AttemptRecord {
	return append(history, domain.AttemptRecord{
		JobID:     d.JobID,
		Kind:      d.Kind,
		Timestamp: at,
		Action:    dec.Action,
		Outcome:   domain.OutcomeSucceeded,
		NotBefore: dec.NotBefore,
	})
}

func TestDecide_BaseActions(t *testing.T) {
	tests := []struct {
		kind domain.FailureKind
		want domain.Action
	}{
		{domain.FailureKindPermissionDenied, domain.ActionEscalate},
		{domain.FailureKindMissingSecret, domain.ActionEscalate},
		{domain.FailureKindAPIQuota, domain.ActionWaitAndRetry},
		{domain.FailureKindEmptyResponse, domain.ActionRetryNow},
		{domain.FailureKindEncodingError, domain.ActionRetryNow},
		{domain.FailureKindGitConflict, domain.ActionRebaseAndRetry},
		{domain.FailureKindUnknown, domain.ActionEscalate},
	}

	p := Default()
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			dec := p.Decide(diagnosis("job", tt.kind), nil, t0, Options{})
			if dec.Action != tt.want {
				t.Errorf("expected %s, got %s", tt.want, dec.Action)
			}
			if dec.Forced {
				t.Error("first failure must never be forced")
			}
			if dec.Reason == "" {
				t.Error("expected a reason")
			}
		})
	}
}

func TestDecide_QuotaWait(t *testing.T) {
	p := Default()
	d := diagnosis("stock-news", domain.FailureKindAPIQuota)

	dec := p.Decide(d, nil, t0, Options{})
	if dec.Action != domain.ActionWaitAndRetry || dec.NotBefore == nil || !dec.NotBefore.Equal(t0.Add(120*time.Minute)) {
		t.Fatalf("unexpected decision %+v", dec)
	}
	history := apply(nil, d, dec, t0)

	// Past the cooldown but inside the wait, the next attempt is not eligible.
	dec = p.Decide(d, history, t0.Add(90*time.Minute), Options{})
	if dec.Action != domain.ActionEscalate || !dec.Forced || !strings.Contains(dec.Reason, "waiting until") {
		t.Errorf("expected forced escalation during the wait, got %+v", dec)
	}

	dec = p.Decide(d, history, t0.Add(121*time.Minute), Options{})
	if dec.Action != domain.ActionWaitAndRetry {
		t.Errorf("expected wait_and_retry after the wait, got %+v", dec)
	}
}

// nba-news fails 4 times within 45 minutes with empty_response.
func TestDecide_CapExceeded(t *testing.T) {
	p := Default()
	d := diagnosis("nba-news", domain.FailureKindEmptyResponse)

	var history []domain.AttemptRecord
	want := []domain.Action{domain.ActionRetryNow, domain.ActionRetryNow, domain.ActionRetryNow, domain.ActionEscalate}
	for i, w := range want {
		now := t0.Add(time.Duration(i) * 15 * time.Minute)
		dec := p.Decide(d, history, now, Options{})
		if dec.Action != w {
			t.Fatalf("failure %d: expected %s, got %s (%s)", i+1, w, dec.Action, dec.Reason)
		}
		history = apply(history, d, dec, now)
	}

	last := p.Decide(d, history[:3], t0.Add(45*time.Minute), Options{})
	if !last.Forced || !strings.Contains(last.Reason, "attempt cap") {
		t.Errorf("expected forced cap escalation, got %+v", last)
	}
}

// stock-news fails with a 403: escalate regardless of history.
func TestDecide_PermissionDeniedIgnoresHistory(t *testing.T) {
	p := Default()
	d := diagnosis("stock-news", domain.FailureKindPermissionDenied)

	histories := [][]domain.AttemptRecord{
		nil,
		{{Kind: domain.FailureKindEmptyResponse, Action: domain.ActionRetryNow, Timestamp: t0.Add(-time.Minute)}},
		{{Kind: domain.FailureKindPermissionDenied, Action: domain.ActionEscalate, Timestamp: t0.Add(-time.Minute)}},
	}
	for i, h := range histories {
		dec := p.Decide(d, h, t0, Options{})
		if dec.Action != domain.ActionEscalate || dec.Forced {
			t.Errorf("history %d: expected policy escalation, got %+v", i, dec)
		}
	}
}

// trade-watcher hits a non-fast-forward push twice, an hour apart.
func TestDecide_GitConflictAfterCooldown(t *testing.T) {
	p := Default()
	d := diagnosis("trade-watcher", domain.FailureKindGitConflict)

	dec := p.Decide(d, nil, t0, Options{})
	if dec.Action != domain.ActionRebaseAndRetry {
		t.Fatalf("expected rebase_and_retry, got %+v", dec)
	}
	history := apply(nil, d, dec, t0)

	early := p.Decide(d, history, t0.Add(30*time.Minute), Options{})
	if early.Action != domain.ActionEscalate || !strings.Contains(early.Reason, "cooldown") {
		t.Errorf("expected cooldown escalation, got %+v", early)
	}

	dec = p.Decide(d, history, t0.Add(61*time.Minute), Options{})
	if dec.Action != domain.ActionRebaseAndRetry || dec.Forced {
		t.Errorf("expected rebase_and_retry after cooldown, got %+v", dec)
	}
}

func TestDecide_EscalationsDoNotCount(t *testing.T) {
	p := Default()
	var history []domain.AttemptRecord
	for i := range 5 {
		history = append(history, domain.AttemptRecord{
			Kind:      domain.FailureKindUnknown,
			Action:    domain.ActionEscalate,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		})
	}

	dec := p.Decide(diagnosis("job", domain.FailureKindGitConflict), history, t0.Add(10*time.Minute), Options{})
	if dec.Action != domain.ActionRebaseAndRetry {
		t.Errorf("expected escalations to be ignored by the gate, got %+v", dec)
	}
}

func TestDecide_DryRun(t *testing.T) {
	p := Default()
	d := diagnosis("nba-news", domain.FailureKindEmptyResponse)

	dec := p.Decide(d, nil, t0, Options{DryRun: true})
	if dec.Action != domain.ActionNoOp || dec.Planned != domain.ActionRetryNow {
		t.Errorf("unexpected dry run decision %+v", dec)
	}
	if !strings.HasPrefix(dec.Reason, "dry run: ") {
		t.Errorf("unexpected reason %q", dec.Reason)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Policy
	cfg.MaxAttempts = 1
	p, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limits.MaxAttempts != 1 || p.Rule(domain.FailureKindAPIQuota).Wait != 120*time.Minute {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.CooldownFor(domain.FailureKindEmptyResponse) != 0 || p.CooldownFor(domain.FailureKindGitConflict) != 60*time.Minute {
		t.Errorf("unexpected cooldowns")
	}
	if p.Lookback() != 120*time.Minute {
		t.Errorf("lookback = %v, want 120m", p.Lookback())
	}

	cfg.Kinds = map[string]config.KindPolicyConfig{"bogus": {Action: "retry_now"}}
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRule_MissingKindEscalates(t *testing.T) {
	p := Policy{Limits: Default().Limits}
	dec := p.Decide(diagnosis("job", domain.FailureKindEmptyResponse), nil, t0, Options{})
	if dec.Action != domain.ActionEscalate {
		t.Errorf("expected escalate for a kind missing from the table, got %s", dec.Action)
	}
}

// Random failure sequences never break the rate-limit bounds.
func TestDecide_RandomSequencesHonourKindCooldown(t *testing.T) {
	p := Default()
	kinds := domain.FailureKinds
	rng := rand.New(rand.NewSource(42))

	for seq := 0; seq < 200; seq++ {
		var history []domain.AttemptRecord
		now := t0
		for i := 0; i < 60; i++ {
			now = now.Add(time.Duration(rng.Intn(40)) * time.Minute)
			d := diagnosis("job", kinds[rng.Intn(len(kinds))])
			dec := p.Decide(d, history, now, Options{})
			if dec.Action == domain.ActionNoOp {
				t.Fatalf("no_op outside a dry run")
			}
			history = apply(history, d, dec, now)
		}

		var counted []domain.AttemptRecord
		for _, r := range history {
			if r.Counted() {
				counted = append(counted, r)
			}
		}
		for i, r := range counted {
			n := 0
			for _, o := range counted[:i+1] {
				if r.Timestamp.Sub(o.Timestamp) < p.Limits.Window {
					n++
				}
			}
			if n > p.Limits.MaxAttempts {
				t.Fatalf("sequence %d: %d attempts within %s ending at %s", seq, n, p.Limits.Window, r.Timestamp)
			}
			if i > 0 {
				gap := r.Timestamp.Sub(counted[i-1].Timestamp)
				if c := p.CooldownFor(r.Kind); gap < c {
					t.Fatalf("sequence %d: %s %s after the previous attempt, cooldown %s", seq, r.Kind, gap, c)
				}
			}
			if i > 0 && counted[i-1].NotBefore != nil && r.Timestamp.Before(*counted[i-1].NotBefore) {
				t.Fatalf("sequence %d: attempt at %s before the quota wait ended", seq, r.Timestamp)
			}
		}
	}
}
