// Package policy decides what to do about a diagnosed failure given the
// job's attempt history. The kind-to-action table and the rate-limit bounds
// are data; Decide is a pure function of its inputs.
package policy

import (
	"fmt"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/config"
	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Limits bound how often a job may be remediated.
type Limits struct {
	Window      time.Duration
	MaxAttempts int
	Cooldown    time.Duration
}

// Rule is the base policy for one failure kind.
type Rule struct {
	Action domain.Action
	// Wait defers the next attempt; the decision carries it as NotBefore.
	Wait time.Duration
	// Cooldown overrides Limits.Cooldown when set.
	Cooldown *time.Duration
}

// Policy is the full remediation policy.
type Policy struct {
	Limits Limits
	Table  map[domain.FailureKind]Rule
}

// Options modify a single decision.
type Options struct {
	DryRun bool
}

func duration(d time.Duration) *time.Duration {
	return &d
}

// Default returns the built-in policy: 3 attempts per 60 minutes, a 60
// minute cooldown and a 120 minute quota wait.
func Default() Policy {
	return Policy{
		Limits: Limits{
			Window:      60 * time.Minute,
			MaxAttempts: 3,
			Cooldown:    60 * time.Minute,
		},
		Table: map[domain.FailureKind]Rule{
			domain.FailureKindPermissionDenied: {Action: domain.ActionEscalate},
			domain.FailureKindMissingSecret:    {Action: domain.ActionEscalate},
			domain.FailureKindAPIQuota:         {Action: domain.ActionWaitAndRetry, Wait: 120 * time.Minute},
			domain.FailureKindEmptyResponse:    {Action: domain.ActionRetryNow, Cooldown: duration(0)},
			domain.FailureKindEncodingError:    {Action: domain.ActionRetryNow, Cooldown: duration(0)},
			domain.FailureKindGitConflict:      {Action: domain.ActionRebaseAndRetry},
			domain.FailureKindUnknown:          {Action: domain.ActionEscalate},
		},
	}
}

// FromConfig builds a policy from validated configuration.
func FromConfig(cfg config.PolicyConfig) (Policy, error) {
	p := Policy{
		Limits: Limits{
			Window:      cfg.Window,
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    cfg.Cooldown,
		},
		Table: make(map[domain.FailureKind]Rule, len(cfg.Kinds)),
	}
	for name, row := range cfg.Kinds {
		kind, err := domain.ParseFailureKind(name)
		if err != nil {
			return Policy{}, err
		}
		action, err := domain.ParseAction(row.Action)
		if err != nil {
			return Policy{}, fmt.Errorf("policy for %s: %w", kind, err)
		}
		p.Table[kind] = Rule{Action: action, Wait: row.Wait, Cooldown: row.Cooldown}
	}
	return p, nil
}

// Rule returns the base policy for kind. Kinds missing from the table are
// escalated.
func (p Policy) Rule(kind domain.FailureKind) Rule {
	if r, ok := p.Table[kind]; ok {
		return r
	}
	return Rule{Action: domain.ActionEscalate}
}

// CooldownFor returns the minimum spacing enforced before kind's action.
func (p Policy) CooldownFor(kind domain.FailureKind) time.Duration {
	if c := p.Rule(kind).Cooldown; c != nil {
		return *c
	}
	return p.Limits.Cooldown
}

// Lookback is how much history Decide needs to see.
func (p Policy) Lookback() time.Duration {
	lookback := max(p.Limits.Window, p.Limits.Cooldown)
	for _, r := range p.Table {
		lookback = max(lookback, r.Wait)
		if r.Cooldown != nil {
			lookback = max(lookback, *r.Cooldown)
		}
	}
	return lookback
}

// Decide returns the decision for d given the job's history, oldest first.
// A dry run reports the decision as Planned with action no_op.
func (p Policy) Decide(d domain.Diagnosis, history []domain.AttemptRecord, now time.Time, opts Options) domain.Decision {
	dec := p.DecideAction(d.Kind, p.Rule(d.Kind).Action, history, now)
	if opts.DryRun {
		return domain.Decision{
			Action:    domain.ActionNoOp,
			Planned:   dec.Action,
			Reason:    "dry run: " + dec.Reason,
			Forced:    dec.Forced,
			NotBefore: dec.NotBefore,
		}
	}
	return dec
}

// DecideAction runs action for kind through the rate-limit gate.
func (p Policy) DecideAction(kind domain.FailureKind, action domain.Action, history []domain.AttemptRecord, now time.Time) domain.Decision {
	if !action.CountsTowardLimit() {
		return domain.Decision{
			Action: domain.ActionEscalate,
			Reason: fmt.Sprintf("%s is escalated by policy", kind),
		}
	}

	if reason, violated := p.gate(kind, history, now); violated {
		return domain.Decision{
			Action: domain.ActionEscalate,
			Reason: reason,
			Forced: true,
		}
	}

	dec := domain.Decision{
		Action: action,
		Reason: fmt.Sprintf("%s policy for %s", action, kind),
	}
	if wait := p.Rule(kind).Wait; wait > 0 && action == domain.ActionWaitAndRetry {
		at := now.Add(wait)
		dec.NotBefore = &at
		dec.Reason = fmt.Sprintf("%s policy for %s, next attempt after %s", action, kind, wait)
	}
	return dec
}

// gate reports the first rate-limit bound a new attempt would violate.
func (p Policy) gate(kind domain.FailureKind, history []domain.AttemptRecord, now time.Time) (string, bool) {
	var (
		inWindow int
		last     *domain.AttemptRecord
	)
	for i := range history {
		rec := &history[i]
		if !rec.Counted() {
			continue
		}
		if now.Sub(rec.Timestamp) < p.Limits.Window {
			inWindow++
		}
		if last == nil || !rec.Timestamp.Before(last.Timestamp) {
			last = rec
		}
		if rec.NotBefore != nil && now.Before(*rec.NotBefore) {
			return fmt.Sprintf("waiting until %s after %s for %s", rec.NotBefore.UTC().Format(time.RFC3339), rec.Action, rec.Kind), true
		}
	}

	if p.Limits.MaxAttempts > 0 && inWindow >= p.Limits.MaxAttempts {
		return fmt.Sprintf("attempt cap reached: %d of %d within %s", inWindow, p.Limits.MaxAttempts, p.Limits.Window), true
	}
	if cooldown := p.CooldownFor(kind); last != nil && cooldown > 0 {
		if since := now.Sub(last.Timestamp); since < cooldown {
			return fmt.Sprintf("cooldown: last %s was %s ago, cooldown is %s", last.Action, since.Round(time.Second), cooldown), true
		}
	}
	return "", false
}
