// Package github is a small client for the GitHub REST endpoints the
// monitor needs: workflow runs and their logs, workflow dispatch and issues.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// DefaultAPIURL is the public GitHub API.
const DefaultAPIURL = "https://api.github.com"

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Config holds the monitored repository and credentials.
type Config struct {
	Owner   string        `yaml:"owner"`
	Name    string        `yaml:"name"`
	Ref     string        `yaml:"ref"` // branch dispatched workflows run on
	Token   domain.Secret `yaml:"token"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// APIError is a non-2xx GitHub response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the GitHub REST API for one repository.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a GitHub client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Name == "" {
		return nil, fmt.Errorf("repository owner and name are required")
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Repository returns "owner/name".
func (c *Client) Repository() string {
	return c.cfg.Owner + "/" + c.cfg.Name
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(c.cfg.Owner), url.PathEscape(c.cfg.Name)) +
		fmt.Sprintf(format, args...)
}

// do sends a request and decodes a JSON response into out when non-nil.
// Failed calls are retried when repeating them cannot apply the change twice.
func (c *Client) do(ctx context.Context, method, path string, in, out any, want ...int) error {
	payload, err := encode(in)
	if err != nil {
		return err
	}
	if len(want) == 0 {
		want = []int{http.StatusOK}
	}

	body, err := withRetry(ctx, c.cfg.Retry, retryPredicate(method), func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, method, path, payload, want)
	})
	if err != nil {
		return err
	}
	return decode(body, out)
}

func (c *Client) raw(ctx context.Context, method, path string, want ...int) ([]byte, error) {
	if len(want) == 0 {
		want = []int{http.StatusOK}
	}
	return withRetry(ctx, c.cfg.Retry, retryPredicate(method), func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, method, path, nil, want)
	})
}

func encode(in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

func decode(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, want []int) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token.Reveal())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	for _, code := range want {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Message: apiMessage(body)}
}

func apiMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// WorkflowFile maps a job to the workflow file GitHub knows it by.
func WorkflowFile(job domain.JobID) string {
	s := string(job)
	if strings.HasSuffix(s, ".yml") || strings.HasSuffix(s, ".yaml") {
		return s
	}
	return s + ".yml"
}
