package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Issue is a GitHub issue.
type Issue struct {
	Number      int64     `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	Labels      []Label   `json:"labels"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// IssueRequest creates an issue.
type IssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
	// Marker identifies the issue in its body when checking whether a
	// failed create went through.
	Marker string `json:"-"`
}

const issuesPerPage = 100

// FindOpenIssue returns the first open issue carrying label whose body
// contains marker or whose title equals title. It returns nil when none is
// open.
func (c *Client) FindOpenIssue(ctx context.Context, label, marker, title string) (*Issue, error) {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("per_page", strconv.Itoa(issuesPerPage))
	if label != "" {
		q.Set("labels", label)
	}

	for page := 1; ; page++ {
		q.Set("page", strconv.Itoa(page))
		var issues []Issue
		if err := c.do(ctx, http.MethodGet, c.repoPath("/issues?%s", q.Encode()), nil, &issues); err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}
		for i := range issues {
			is := issues[i]
			if is.PullRequest != nil {
				continue
			}
			if (marker != "" && strings.Contains(is.Body, marker)) || (title != "" && is.Title == title) {
				return &is, nil
			}
		}
		if len(issues) < issuesPerPage {
			return nil, nil
		}
	}
}

// CreateIssue opens an issue. A create that fails after reaching GitHub may
// still have opened the issue, so before each retry the open issues are
// searched for it instead of posting blindly.
func (c *Client) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	payload, err := encode(req)
	if err != nil {
		return nil, err
	}
	label := strings.Join(req.Labels, ",")

	attempt := 0
	issue, err := withRetry(ctx, c.cfg.Retry, Retryable, func(ctx context.Context) (*Issue, error) {
		attempt++
		if attempt > 1 {
			existing, err := c.FindOpenIssue(ctx, label, req.Marker, req.Title)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, nil
			}
		}

		body, err := c.send(ctx, http.MethodPost, c.repoPath("/issues"), payload, []int{http.StatusCreated})
		if err != nil {
			return nil, err
		}
		var created Issue
		if err := decode(body, &created); err != nil {
			return nil, err
		}
		return &created, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return issue, nil
}
