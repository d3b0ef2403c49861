package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/types"
)

// defaultTimeout bounds control calls. Exec sets its own deadline from
// the requested execution timeout.
const defaultTimeout = 10 * time.Second

// execSlack is added on top of the requested execution timeout so the
// daemon, not the client, reports the timeout.
const execSlack = 30 * time.Second

// Client drives a running daemon over its HTTP API. Used by the CLI
// subcommands; safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon at baseURL
// (e.g. "http://localhost:8000"). A bare host:port gets an http scheme.
func NewClient(baseURL string) *Client {
	u := strings.TrimRight(baseURL, "/")
	if u != "" && !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{},
	}
}

// errorBody mirrors the server's JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if derr := json.NewDecoder(resp.Body).Decode(&eb); derr == nil && eb.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, eb.Error)
		}
		return fmt.Errorf("daemon returned %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type execRequest struct {
	SessionID      string `json:"session_id"`
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Exec runs code in the named session, starting the session if needed.
func (c *Client) Exec(sessionID, code string, timeoutSeconds int) (*types.ExecResult, error) {
	wait := defaultTimeout + execSlack
	if timeoutSeconds > 0 {
		wait = time.Duration(timeoutSeconds)*time.Second + execSlack
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var result types.ExecResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/exec", execRequest{
		SessionID:      sessionID,
		Code:           code,
		TimeoutSeconds: timeoutSeconds,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type sessionListResponse struct {
	Sessions []*types.Session `json:"sessions"`
	Count    int              `json:"count"`
}

// ListSessions returns the daemon's live sessions.
func (c *Client) ListSessions() ([]*types.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var resp sessionListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetSession returns one live session by key.
func (c *Client) GetSession(key string) (*types.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var sess types.Session
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+key, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// StopSession stops the session's container and forgets the session.
func (c *Client) StopSession(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+key, nil, nil)
}

type exportRequest struct {
	Path string `json:"path"`
}

// Export copies a file out of the session container to the host export
// directory.
func (c *Client) Export(key, containerPath string) (*types.ExportResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var result types.ExportResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+key+"/export", exportRequest{Path: containerPath}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type stageDatasetsRequest struct {
	Datasets []string `json:"datasets"`
}

type stagedDatasetJSON struct {
	ID              string `json:"id"`
	PathInContainer string `json:"path_in_container"`
	Source          string `json:"source"`
}

type stageDatasetsResponse struct {
	SessionID string              `json:"session_id"`
	Staged    []stagedDatasetJSON `json:"staged"`
}

// StageDatasets makes the named datasets readable inside the session
// container and returns the in-container paths.
func (c *Client) StageDatasets(key string, datasetIDs []string) ([]*types.StagedDataset, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var resp stageDatasetsResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+key+"/datasets", stageDatasetsRequest{Datasets: datasetIDs}, &resp)
	if err != nil {
		return nil, err
	}
	staged := make([]*types.StagedDataset, 0, len(resp.Staged))
	for _, sd := range resp.Staged {
		staged = append(staged, &types.StagedDataset{
			ID:              sd.ID,
			PathInContainer: sd.PathInContainer,
			Source:          types.DatasetSource(sd.Source),
		})
	}
	return staged, nil
}

type datasetListResponse struct {
	SessionID string               `json:"session_id"`
	Datasets  []string             `json:"datasets"`
	Entries   []types.DatasetEntry `json:"entries"`
}

// ListDatasets returns the dataset ids available to a session and the
// session's cache entries with load status.
func (c *Client) ListDatasets(key string) ([]string, []types.DatasetEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var resp datasetListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+key+"/datasets", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Datasets, resp.Entries, nil
}

type sessionArtifactsResponse struct {
	SessionID string                      `json:"session_id"`
	Artifacts []artifacts.SessionArtifact `json:"artifacts"`
	Count     int                         `json:"count"`
}

// SessionArtifacts lists the stored artifacts produced by a session,
// newest first, with fresh signed download URLs.
func (c *Client) SessionArtifacts(key string) ([]artifacts.SessionArtifact, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var resp sessionArtifactsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+key+"/artifacts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}

// Healthz pings the daemon.
func (c *Client) Healthz() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Download fetches a signed artifact URL into destPath and returns the
// bytes written. Relative URLs are resolved against the daemon base URL.
func (c *Client) Download(url, destPath string) (int64, error) {
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if derr := json.NewDecoder(resp.Body).Decode(&eb); derr == nil && eb.Error != "" {
			return 0, fmt.Errorf("download failed with %d: %s", resp.StatusCode, eb.Error)
		}
		return 0, fmt.Errorf("download failed with %d", resp.StatusCode)
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return n, nil
}
