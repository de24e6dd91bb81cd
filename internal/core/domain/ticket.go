package domain

// Ticket is a human-visible escalation report.
type Ticket struct {
	ID     string      `json:"id"`
	URL    string      `json:"url,omitempty"`
	Title  string      `json:"title"`
	JobID  JobID       `json:"job_id"`
	Kind   FailureKind `json:"failure_kind"`
	Labels []string    `json:"labels,omitempty"`
}
