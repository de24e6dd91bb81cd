// Package report renders diagnoses for people (text) and machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Workflow statuses.
const (
	StatusHealthy = "healthy"
	StatusFailing = "failing"
)

// Workflow summarises the diagnosed recent failures of one job.
type Workflow struct {
	Workflow        domain.JobID       `json:"workflow"`
	Status          string             `json:"status"`
	RecentFailures  int                `json:"recent_failures"`
	FixableFailures int                `json:"fixable_failures"`
	RequiresHuman   int                `json:"requires_human"`
	Failures        []domain.Diagnosis `json:"failures"`
}

// NewWorkflow builds the report of one job from its diagnoses.
func NewWorkflow(job domain.JobID, diagnoses []domain.Diagnosis) Workflow {
	r := Workflow{
		Workflow:       job,
		Status:         StatusHealthy,
		RecentFailures: len(diagnoses),
		Failures:       diagnoses,
	}
	if r.Failures == nil {
		r.Failures = []domain.Diagnosis{}
	}
	if len(diagnoses) > 0 {
		r.Status = StatusFailing
	}
	for _, d := range diagnoses {
		if d.Fixable {
			r.FixableFailures++
		}
	}
	r.RequiresHuman = r.RecentFailures - r.FixableFailures
	return r
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable report.
func WriteText(w io.Writer, reports []Workflow) error {
	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Workflow: %s\n", r.Workflow)
		if r.Status == StatusHealthy {
			b.WriteString("  Status: healthy (no recent failures)\n")
			continue
		}
		fmt.Fprintf(&b, "  Status: %s (%d recent, %d fixable, %d need a human)\n",
			r.Status, r.RecentFailures, r.FixableFailures, r.RequiresHuman)
		for _, d := range r.Failures {
			writeDiagnosis(&b, d, "  ")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteDiagnosis writes a single diagnosis as text.
func WriteDiagnosis(w io.Writer, d domain.Diagnosis) error {
	var b strings.Builder
	writeDiagnosis(&b, d, "")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeDiagnosis(b *strings.Builder, d domain.Diagnosis, indent string) {
	run := "n/a"
	if d.RunID != 0 {
		run = fmt.Sprint(d.RunID)
	}
	fmt.Fprintf(b, "%s- Run %s: %s (%s severity, confidence %.2f)\n", indent, run, d.Kind, d.Severity, d.Confidence)
	fmt.Fprintf(b, "%s  %s\n", indent, d.Description)
	if d.Excerpt != "" {
		fmt.Fprintf(b, "%s  Evidence: %s\n", indent, d.Excerpt)
	}
	fixable := "no, needs human review"
	if d.Fixable {
		fixable = "yes"
	}
	fmt.Fprintf(b, "%s  Suggested: %s (auto-fixable: %s)\n", indent, d.SuggestedAction, fixable)
	if d.URL != "" {
		fmt.Fprintf(b, "%s  URL: %s\n", indent, d.URL)
	}
}
