// Package client is a small HTTP client for the kiln job API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/model"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultBaseURL is where a locally started server listens.
const DefaultBaseURL = "http://localhost:8080"

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the per-request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// Client talks to a kiln server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a new API client with the given options
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: u.String(),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Submit queues a job. An empty kind selects the server's default generator.
func (c *Client) Submit(ctx context.Context, kind string, params model.Parameters) (*SubmitResponse, error) {
	endpoint := "/v1/jobs"
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(kind)
	}
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, endpoint, params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the job's status and progress.
func (c *Client) Status(ctx context.Context, id string) (*engine.StatusView, error) {
	var resp engine.StatusView
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Result returns the job's result view. For unfinished jobs the view is
// not Ready and carries only status and progress.
func (c *Client) Result(ctx context.Context, id string) (*engine.ResultView, error) {
	var resp engine.ResultView
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id)+"/result", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait polls the job until it finishes or ctx is done, then returns its
// result view. onProgress, when non-nil, sees every polled status.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onProgress func(*engine.StatusView)) (*engine.ResultView, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(st)
		}
		if model.IsTerminal(st.Status) {
			return c.Result(ctx, id)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ListJobs lists jobs with optional filtering
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*JobList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	endpoint := "/v1/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp JobList
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generators lists the generators the server can run.
func (c *Client) Generators(ctx context.Context) (*GeneratorList, error) {
	var resp GeneratorList
	if err := c.do(ctx, http.MethodGet, "/v1/generators", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns aggregate job counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends the request and decodes a 2xx body into v.
func (c *Client) do(ctx context.Context, method, endpoint string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "unknown error"}
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Field = errResp.Field
		}
		return apiErr
	}

	if v != nil && len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}
