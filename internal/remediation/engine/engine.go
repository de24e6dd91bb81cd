// Package engine runs one remediation pass: classify the evidence, decide
// against the job's ledger history, record the intent, act, then record
// the outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/ledger"
	"github.com/vietddude/workflow-monitor/internal/metrics"
	"github.com/vietddude/workflow-monitor/internal/remediation/action"
	"github.com/vietddude/workflow-monitor/internal/remediation/policy"
)

// ErrEvidenceUnavailable is returned when no evidence could be obtained.
// Nothing is written to the ledger in that case.
var ErrEvidenceUnavailable = errors.New("evidence unavailable")

// Classifier turns evidence into a diagnosis.
type Classifier interface {
	Classify(ev domain.Evidence) domain.Diagnosis
}

// EvidenceSource fetches the evidence of a failed run. A zero runID means
// the job's latest failed run.
type EvidenceSource interface {
	Evidence(ctx context.Context, job domain.JobID, runID int64) (domain.Evidence, error)
}

// Request is one remediation invocation.
type Request struct {
	JobID domain.JobID
	RunID int64
	// Evidence, when set, is classified instead of fetching it.
	Evidence *domain.Evidence
	// Kind, when set, overrides classification.
	Kind   *domain.FailureKind
	DryRun bool
}

// Result reports what the invocation decided and did.
type Result struct {
	Diagnosis domain.Diagnosis `json:"diagnosis"`
	Decision  domain.Decision  `json:"decision"`
	// Record is the ledger entry written, nil for dry runs.
	Record  *domain.AttemptRecord `json:"record,omitempty"`
	Outcome domain.Outcome        `json:"outcome"`
	// Err is the action's own failure. It is recorded, not retried.
	Err error `json:"-"`
}

// Deps are the engine's collaborators.
type Deps struct {
	Ledger     *ledger.Ledger
	Policy     policy.Policy
	Classifier Classifier
	// Evidence may be nil when callers always pass evidence or a kind.
	Evidence EvidenceSource
	Actions  action.Executor
	// Escalator files ledger-fault tickets. Nil disables them.
	Escalator action.Executor
	NewID     func() string
}

// Engine wires classification, policy, ledger and actions together.
type Engine struct {
	ledger     *ledger.Ledger
	policy     policy.Policy
	classifier Classifier
	evidence   EvidenceSource
	actions    action.Executor
	escalator  action.Executor
	newID      func() string
}

// New creates an engine.
func New(deps Deps) *Engine {
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Engine{
		ledger:     deps.Ledger,
		policy:     deps.Policy,
		classifier: deps.Classifier,
		evidence:   deps.Evidence,
		actions:    deps.Actions,
		escalator:  deps.Escalator,
		newID:      deps.NewID,
	}
}

// Diagnose classifies the request's evidence, fetching it when needed.
func (e *Engine) Diagnose(ctx context.Context, req Request) (domain.Diagnosis, error) {
	d, err := e.diagnose(ctx, req)
	if err != nil {
		return d, err
	}
	metrics.DiagnosesTotal.WithLabelValues(string(d.Kind)).Inc()
	return d, nil
}

func (e *Engine) diagnose(ctx context.Context, req Request) (domain.Diagnosis, error) {
	now := e.ledger.Now()

	if req.Kind != nil && req.Evidence == nil {
		rule := e.policy.Rule(*req.Kind)
		return domain.Diagnosis{
			JobID:           req.JobID,
			RunID:           req.RunID,
			Kind:            *req.Kind,
			Confidence:      1,
			SuggestedAction: rule.Action,
			Severity:        severityOf(rule.Action),
			Fixable:         rule.Action.CountsTowardLimit(),
			Description:     fmt.Sprintf("Failure type %s supplied by caller", *req.Kind),
			Timestamp:       now,
		}, nil
	}

	var ev domain.Evidence
	switch {
	case req.Evidence != nil:
		ev = *req.Evidence
	case e.evidence != nil:
		fetched, err := e.evidence.Evidence(ctx, req.JobID, req.RunID)
		if err != nil {
			return domain.Diagnosis{}, errors.Mark(
				errors.Wrapf(err, "failed to fetch evidence for %s", req.JobID),
				ErrEvidenceUnavailable,
			)
		}
		ev = fetched
	default:
		return domain.Diagnosis{}, errors.WithHint(
			errors.Wrapf(ErrEvidenceUnavailable, "no evidence for %s", req.JobID),
			"pass a log file or a failure type, or configure the repository to fetch run logs",
		)
	}
	if ev.JobID == "" {
		ev.JobID = req.JobID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	d := e.classifier.Classify(ev)
	if req.Kind != nil {
		d.Kind = *req.Kind
		d.Confidence = 1
		d.SuggestedAction = e.policy.Rule(d.Kind).Action
	}
	return d, nil
}

// Run performs one remediation pass for a failed job.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	d, err := e.Diagnose(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if req.DryRun {
		history, err := e.ledger.History(ctx, req.JobID, e.policy.Lookback())
		if err != nil {
			return Result{Diagnosis: d}, err
		}
		dec := e.policy.Decide(d, history, e.ledger.Now(), policy.Options{DryRun: true})
		countDecision(dec)
		slog.Info("Dry run, ledger untouched",
			"workflow", req.JobID,
			"kind", d.Kind,
			"planned", dec.Planned,
			"reason", dec.Reason,
		)
		return Result{Diagnosis: d, Decision: dec, Outcome: domain.OutcomeSkipped}, nil
	}

	return e.remediate(ctx, d, func(_, history []domain.AttemptRecord, now time.Time) (domain.Decision, bool) {
		return e.policy.Decide(d, history, now, policy.Options{}), true
	})
}

// decideFunc computes the decision from the job's fresh records and its
// history within the policy lookback. Returning false abandons the pass
// without writing.
type decideFunc func(records, history []domain.AttemptRecord, now time.Time) (domain.Decision, bool)

func (e *Engine) remediate(ctx context.Context, d domain.Diagnosis, decide decideFunc) (Result, error) {
	var (
		dec     domain.Decision
		rec     domain.AttemptRecord
		history []domain.AttemptRecord
		skipped bool
	)
	id := e.newID()

	// Deciding inside the update keeps two racing invocations from passing
	// the gate on the same snapshot.
	err := e.ledger.Update(ctx, func(doc *ledger.Document) error {
		now := e.ledger.Now()
		history = doc.History(d.JobID, e.policy.Lookback(), now)

		var ok bool
		dec, ok = decide(doc.Records(d.JobID), history, now)
		if !ok {
			skipped = true
			return ledger.ErrNoChange
		}
		skipped = false

		rec = domain.AttemptRecord{
			ID:        id,
			JobID:     d.JobID,
			Kind:      d.Kind,
			Timestamp: now,
			Action:    dec.Action,
			Outcome:   domain.OutcomePending,
			RunID:     d.RunID,
			Reason:    dec.Reason,
			NotBefore: dec.NotBefore,
		}
		if err := doc.Append(rec); err != nil {
			return err
		}
		e.ledger.Tidy(doc, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrContention) {
			return e.escalateLedgerFault(ctx, d, err)
		}
		return Result{Diagnosis: d}, err
	}
	if skipped {
		return Result{Diagnosis: d, Decision: dec, Outcome: domain.OutcomeSkipped}, nil
	}
	countDecision(dec)

	outcome, actErr := e.actions.Execute(ctx, action.Request{
		JobID:     d.JobID,
		RunID:     d.RunID,
		Diagnosis: d,
		Decision:  dec,
		History:   history,
	})
	if actErr != nil {
		outcome = domain.OutcomeFailed
		slog.Error("Remediation action failed",
			"workflow", d.JobID,
			"action", dec.Action,
			"error", actErr,
		)
	}
	metrics.ActionOutcomesTotal.WithLabelValues(string(dec.Action), string(outcome)).Inc()

	res := Result{Diagnosis: d, Decision: dec, Outcome: outcome, Err: actErr}
	if err := e.ledger.Finalize(ctx, d.JobID, rec.ID, outcome); err != nil {
		// The pending record still counts toward the limit.
		rec.Outcome = domain.OutcomePending
		res.Record = &rec
		return res, errors.Wrapf(err, "failed to record outcome of %s", rec.ID)
	}
	rec.Outcome = outcome
	res.Record = &rec

	slog.Info("Remediation recorded",
		"workflow", d.JobID,
		"kind", d.Kind,
		"action", dec.Action,
		"outcome", outcome,
		"forced", dec.Forced,
	)
	return res, nil
}

// escalateLedgerFault hands the ledger's own state to a human.
func (e *Engine) escalateLedgerFault(ctx context.Context, d domain.Diagnosis, cause error) (Result, error) {
	dec := domain.Decision{
		Action: domain.ActionEscalate,
		Reason: cause.Error(),
		Forced: true,
	}
	countDecision(dec)
	res := Result{Diagnosis: d, Decision: dec, Outcome: domain.OutcomeFailed}
	if e.escalator == nil {
		return res, cause
	}

	fault := d
	fault.Kind = domain.FailureKindGitConflict
	outcome, err := e.escalator.Execute(ctx, action.Request{
		JobID:       d.JobID,
		RunID:       d.RunID,
		Diagnosis:   fault,
		Decision:    dec,
		LedgerFault: true,
	})
	if err != nil {
		slog.Error("Failed to escalate ledger contention", "workflow", d.JobID, "error", err)
	} else {
		res.Outcome = outcome
	}
	metrics.ActionOutcomesTotal.WithLabelValues(string(dec.Action), string(res.Outcome)).Inc()
	return res, cause
}

func countDecision(dec domain.Decision) {
	metrics.DecisionsTotal.WithLabelValues(string(dec.Action), strconv.FormatBool(dec.Forced)).Inc()
}

func severityOf(a domain.Action) domain.Severity {
	if a == domain.ActionEscalate {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}
