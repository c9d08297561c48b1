// Package extract talks to the text-extraction collaborator and caches its
// results by content hash, so re-indexing a subject whose attachment bytes
// did not change never re-submits the file.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// Extractor turns file bytes into indexable text. Errors mean "extraction
// failed", never content.
type Extractor interface {
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
}

// HTTPConfig configures the extraction service client.
type HTTPConfig struct {
	// Endpoint is the base URL of the extraction service.
	Endpoint string
	// Retry configures backoff for transient failures.
	Retry syncerrors.RetryConfig
}

// HTTPClient is an Extractor backed by a Tika-style HTTP service: the file
// body is PUT as-is and the response body is the extracted plain text.
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
}

var _ Extractor = (*HTTPClient)(nil)

// NewHTTPClient creates an extraction service client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = syncerrors.DefaultRetryConfig()
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ExtractText implements Extractor.
func (c *HTTPClient) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	return syncerrors.RetryWithResult(ctx, c.cfg.Retry, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			c.cfg.Endpoint+"/tika", bytes.NewReader(data))
		if err != nil {
			return "", syncerrors.New(syncerrors.ErrCodeExtractionFailed, "cannot build request", err)
		}
		req.Header.Set("Accept", "text/plain")
		req.Header.Set("File-Name", url.PathEscape(filename))

		resp, err := c.http.Do(req)
		if err != nil {
			return "", syncerrors.New(syncerrors.ErrCodeExtractionFailed, "request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", syncerrors.New(syncerrors.ErrCodeExtractionFailed, "cannot read response", err)
		}

		switch {
		case resp.StatusCode < 300:
			return string(body), nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			// The service cannot handle this format; an empty result is
			// cached so the file is never retried.
			return "", nil
		default:
			return "", syncerrors.New(syncerrors.ErrCodeExtractionFailed,
				fmt.Sprintf("extraction service returned %d", resp.StatusCode), nil)
		}
	})
}
