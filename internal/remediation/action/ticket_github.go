package action

import (
	"context"
	"fmt"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/infra/github"
)

// IssueClient is the part of the GitHub client the ticketer uses.
type IssueClient interface {
	FindOpenIssue(ctx context.Context, label, marker, title string) (*github.Issue, error)
	CreateIssue(ctx context.Context, req github.IssueRequest) (*github.Issue, error)
}

// GitHubTicketer files escalations as GitHub issues. An issue is resolved
// when it is closed.
type GitHubTicketer struct {
	client IssueClient
	// label narrows the open-issue search.
	label string
}

// NewGitHubTicketer creates a ticketer searching issues carrying label.
func NewGitHubTicketer(client IssueClient, label string) *GitHubTicketer {
	return &GitHubTicketer{client: client, label: label}
}

// FindOpen looks for an open issue carrying the key's marker.
func (t *GitHubTicketer) FindOpen(ctx context.Context, key TicketKey) (*domain.Ticket, error) {
	issue, err := t.client.FindOpenIssue(ctx, t.label, key.Marker(), "")
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, nil
	}
	return toTicket(key, issue), nil
}

// Create opens an issue.
func (t *GitHubTicketer) Create(ctx context.Context, key TicketKey, d Draft) (*domain.Ticket, error) {
	issue, err := t.client.CreateIssue(ctx, github.IssueRequest{Title: d.Title, Body: d.Body, Labels: d.Labels, Marker: key.Marker()})
	if err != nil {
		return nil, err
	}
	return toTicket(key, issue), nil
}

func toTicket(key TicketKey, issue *github.Issue) *domain.Ticket {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	return &domain.Ticket{
		ID:     fmt.Sprintf("#%d", issue.Number),
		URL:    issue.HTMLURL,
		Title:  issue.Title,
		JobID:  key.JobID,
		Kind:   key.Kind,
		Labels: labels,
	}
}
