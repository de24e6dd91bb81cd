package domain

import (
	"fmt"
	"time"
)

// FailureKind is the closed taxonomy of workflow failures.
type FailureKind string

const (
	FailureKindPermissionDenied FailureKind = "permission_denied"
	FailureKindMissingSecret    FailureKind = "missing_secret"
	FailureKindAPIQuota         FailureKind = "api_quota"
	FailureKindEmptyResponse    FailureKind = "empty_response"
	FailureKindEncodingError    FailureKind = "encoding_error"
	FailureKindGitConflict      FailureKind = "git_conflict"
	FailureKindUnknown          FailureKind = "unknown"
)

// FailureKinds lists every kind in classification priority order.
var FailureKinds = []FailureKind{
	FailureKindPermissionDenied,
	FailureKindMissingSecret,
	FailureKindAPIQuota,
	FailureKindEmptyResponse,
	FailureKindEncodingError,
	FailureKindGitConflict,
	FailureKindUnknown,
}

// ParseFailureKind validates a kind name.
func ParseFailureKind(s string) (FailureKind, error) {
	for _, k := range FailureKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown failure kind %q", s)
}

// Severity is an informational rating attached to a diagnosis.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Evidence is the raw signal of one failed run. It is never persisted.
type Evidence struct {
	JobID     JobID
	RunID     int64
	Log       string
	ExitCode  *int
	Timestamp time.Time
	URL       string
}

// Diagnosis is the classifier's verdict for one piece of evidence.
type Diagnosis struct {
	JobID           JobID       `json:"job_id"`
	RunID           int64       `json:"run_id,omitempty"`
	Kind            FailureKind `json:"failure_kind"`
	Excerpt         string      `json:"evidence_excerpt,omitempty"`
	Confidence      float64     `json:"confidence"`
	SuggestedAction Action      `json:"suggested_action"`
	Severity        Severity    `json:"severity"`
	Fixable         bool        `json:"fixable"`
	Description     string      `json:"description"`
	URL             string      `json:"url,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}
