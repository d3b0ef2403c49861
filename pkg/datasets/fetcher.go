package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// fetchTimeout bounds a single dataset download.
const fetchTimeout = 5 * time.Minute

// maxDatasetBytes caps a fetched dataset at 1 GiB; anything larger should
// arrive by mount, not through the API path.
const maxDatasetBytes = 1 << 30

// NewHTTPFetcher returns a FetchFunc that downloads parquet bytes from a
// dataset service at baseURL (GET {base}/datasets/{id}). An empty baseURL
// yields a fetcher that always fails, for deployments where datasets only
// ever arrive by mount.
func NewHTTPFetcher(baseURL string) FetchFunc {
	if baseURL == "" {
		return func(ctx context.Context, dsID string) ([]byte, error) {
			return nil, fmt.Errorf("no dataset service configured")
		}
	}
	base := baseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	httpClient := &http.Client{Timeout: fetchTimeout}

	return func(ctx context.Context, dsID string) ([]byte, error) {
		url := base + "/datasets/" + CleanID(dsID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build dataset request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch dataset %s: %w", dsID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("dataset service returned %d for %s", resp.StatusCode, dsID)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDatasetBytes+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset %s: %w", dsID, err)
		}
		if len(data) > maxDatasetBytes {
			return nil, fmt.Errorf("dataset %s exceeds the %d byte fetch cap", dsID, maxDatasetBytes)
		}
		return data, nil
	}
}
