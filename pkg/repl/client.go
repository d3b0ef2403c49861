package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultExecTimeout matches the REPL server's own default when a
	// request carries no timeout.
	DefaultExecTimeout = 120 * time.Second

	// execTimeoutSlack is added on top of the in-code timeout so the
	// REPL gets to report its own timeout before the HTTP call gives up.
	execTimeoutSlack = 5 * time.Second

	healthTimeout = 5 * time.Second

	readyAttempts = 50
	readyInterval = 100 * time.Millisecond
)

// Response is the REPL server's reply to an exec request. Stdout carries
// whatever the code printed before completing, failing, or timing out.
type Response struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout"`
	Error  string `json:"error,omitempty"`
}

type execRequest struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"`
}

// Client calls the HTTP REPL server running inside sandbox containers.
// A single client serves all sessions; the per-session base URL is passed
// per call because it depends on the address strategy.
type Client struct {
	http *http.Client
}

// NewClient creates a REPL client. Timeouts are applied per call, so the
// underlying HTTP client carries none.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Health probes the REPL's /health endpoint
func (c *Client) Health(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach repl: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repl health returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitReady polls the REPL's health endpoint until it answers, for up to
// ~5 seconds. Readiness is best-effort; callers may proceed either way.
func (c *Client) WaitReady(ctx context.Context, baseURL string) bool {
	for i := 0; i < readyAttempts; i++ {
		if err := c.Health(ctx, baseURL); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readyInterval):
		}
	}
	return false
}

// Exec runs code in the session's persistent namespace and returns the
// REPL's verdict. The timeout bounds execution inside the container; the
// HTTP call itself is given a little extra slack so in-container timeouts
// surface as a non-ok Response rather than a transport error.
func (c *Client) Exec(ctx context.Context, baseURL, code string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	body, err := json.Marshal(execRequest{Code: code, Timeout: int(timeout.Seconds())})
	if err != nil {
		return nil, fmt.Errorf("failed to encode exec request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+execTimeoutSlack)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create exec request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach repl: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repl returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode repl response: %w", err)
	}
	return &out, nil
}
