package github

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// maxLogBytes caps how much of a run's log archive is kept as evidence.
const maxLogBytes = 4 << 20

// Run is a workflow run.
type Run struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HeadBranch string    `json:"head_branch"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Failed reports whether the run finished unsuccessfully.
func (r Run) Failed() bool {
	switch r.Conclusion {
	case "failure", "timed_out", "startup_failure":
		return true
	}
	return false
}

// ListFailedRuns returns up to limit of the job's most recent failed runs,
// newest first.
func (c *Client) ListFailedRuns(ctx context.Context, job domain.JobID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 1
	}
	q := url.Values{}
	q.Set("status", "completed")
	q.Set("per_page", fmt.Sprint(min(max(limit*5, 20), 100)))

	var resp struct {
		WorkflowRuns []Run `json:"workflow_runs"`
	}
	path := c.repoPath("/actions/workflows/%s/runs?%s", url.PathEscape(WorkflowFile(job)), q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list runs of %s: %w", job, err)
	}

	runs := make([]Run, 0, limit)
	for _, r := range resp.WorkflowRuns {
		if !r.Failed() {
			continue
		}
		runs = append(runs, r)
		if len(runs) == limit {
			break
		}
	}
	return runs, nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID int64) (Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, c.repoPath("/actions/runs/%d", runID), nil, &run); err != nil {
		return Run{}, fmt.Errorf("failed to get run %d: %w", runID, err)
	}
	return run, nil
}

// RunLogs downloads the run's log archive and returns every step log
// concatenated in name order.
func (c *Client) RunLogs(ctx context.Context, runID int64) (string, error) {
	body, err := c.raw(ctx, http.MethodGet, c.repoPath("/actions/runs/%d/logs", runID))
	if err != nil {
		return "", fmt.Errorf("failed to download logs of run %d: %w", runID, err)
	}
	return unzipLogs(body)
}

func unzipLogs(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open log archive: %w", err)
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var b strings.Builder
	for _, f := range files {
		if b.Len() >= maxLogBytes {
			break
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, int64(maxLogBytes-b.Len())))
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		fmt.Fprintf(&b, "=== %s ===\n", f.Name)
		b.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// Evidence collects the evidence of a failed run. A zero runID selects the
// job's latest failed run.
func (c *Client) Evidence(ctx context.Context, job domain.JobID, runID int64) (domain.Evidence, error) {
	var run Run
	if runID == 0 {
		runs, err := c.ListFailedRuns(ctx, job, 1)
		if err != nil {
			return domain.Evidence{}, err
		}
		if len(runs) == 0 {
			return domain.Evidence{}, fmt.Errorf("no failed runs of %s: %w", job, ErrNotFound)
		}
		run = runs[0]
	} else {
		r, err := c.GetRun(ctx, runID)
		if err != nil {
			return domain.Evidence{}, err
		}
		run = r
	}

	logs, err := c.RunLogs(ctx, run.ID)
	if err != nil {
		return domain.Evidence{}, err
	}
	return domain.Evidence{
		JobID:     job,
		RunID:     run.ID,
		Log:       logs,
		Timestamp: run.UpdatedAt,
		URL:       run.HTMLURL,
	}, nil
}

// Dispatch triggers a workflow_dispatch run of the job on the configured ref.
func (c *Client) Dispatch(ctx context.Context, job domain.JobID) error {
	path := c.repoPath("/actions/workflows/%s/dispatches", url.PathEscape(WorkflowFile(job)))
	in := map[string]string{"ref": c.cfg.Ref}
	if err := c.do(ctx, http.MethodPost, path, in, nil, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", job, err)
	}
	return nil
}
