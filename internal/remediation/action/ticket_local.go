package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// LocalTicketer writes escalations as markdown files in a directory.
// Deleting a file, or renaming it to *.resolved.md, resolves it.
type LocalTicketer struct {
	dir string
}

// NewLocalTicketer creates a ticketer writing to dir.
func NewLocalTicketer(dir string) *LocalTicketer {
	return &LocalTicketer{dir: dir}
}

func (t *LocalTicketer) path(key TicketKey) string {
	name := fmt.Sprintf("%s--%s", key.JobID.Name(), key.Kind)
	if key.Scope != "" {
		name += "--" + key.Scope
	}
	return filepath.Join(t.dir, name+".md")
}

// FindOpen reports the ticket file for key if it exists.
func (t *LocalTicketer) FindOpen(_ context.Context, key TicketKey) (*domain.Ticket, error) {
	path := t.path(key)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat ticket: %w", err)
	}
	return t.ticket(key, path, ""), nil
}

// Create writes the ticket file. A file created concurrently by another
// invocation is returned as is.
func (t *LocalTicketer) Create(_ context.Context, key TicketKey, d Draft) (*domain.Ticket, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ticket dir: %w", err)
	}

	path := t.path(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return t.ticket(key, path, d.Title), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	content := fmt.Sprintf("# %s\n\nLabels: %s\n\n%s", d.Title, strings.Join(d.Labels, ", "), d.Body)
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write ticket: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ticket: %w", err)
	}

	tk := t.ticket(key, path, d.Title)
	tk.Labels = d.Labels
	return tk, nil
}

func (t *LocalTicketer) ticket(key TicketKey, path, title string) *domain.Ticket {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &domain.Ticket{
		ID:    filepath.Base(path),
		URL:   "file://" + filepath.ToSlash(abs),
		Title: title,
		JobID: key.JobID,
		Kind:  key.Kind,
	}
}
