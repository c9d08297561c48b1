package search

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// ElasticConfig configures the Elasticsearch client.
type ElasticConfig struct {
	// Endpoint is the base URL of the engine (e.g. http://elasticsearch:9200).
	Endpoint string
	// Retry configures backoff for transient failures (429, 5xx).
	Retry syncerrors.RetryConfig
}

// Elastic implements Client against an Elasticsearch-compatible HTTP API.
type Elastic struct {
	cfg  ElasticConfig
	http *http.Client
}

var _ Client = (*Elastic)(nil)

// NewElastic creates an Elasticsearch client.
func NewElastic(cfg ElasticConfig) *Elastic {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = syncerrors.DefaultRetryConfig()
	}
	return &Elastic{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

// EnsureIndex implements Client.
func (e *Elastic) EnsureIndex(ctx context.Context, name string, mappings, settings map[string]any) error {
	exists, err := e.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]any{}
	if mappings != nil {
		body["mappings"] = mappings
	}
	if settings != nil {
		body["settings"] = settings
	}

	_, err = e.do(ctx, http.MethodPut, "/"+url.PathEscape(name), body)
	if err != nil {
		// Lost the creation race against a concurrent ensure; the index
		// exists, which is all this call promises.
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return err
	}
	return nil
}

// IndexExists implements Client.
func (e *Elastic) IndexExists(ctx context.Context, name string) (bool, error) {
	status, err := e.head(ctx, "/"+url.PathEscape(name))
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// DeleteIndex implements Client.
func (e *Elastic) DeleteIndex(ctx context.Context, name string) error {
	_, err := e.do(ctx, http.MethodDelete, "/"+url.PathEscape(name), nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Refresh implements Client.
func (e *Elastic) Refresh(ctx context.Context, name string) error {
	_, err := e.do(ctx, http.MethodPost, "/"+url.PathEscape(name)+"/_refresh", nil)
	return err
}

// PutDocument implements Client.
func (e *Elastic) PutDocument(ctx context.Context, index, id string, doc Document) error {
	path := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id)
	_, err := e.do(ctx, http.MethodPut, path, doc)
	return err
}

// DeleteDocument implements Client.
func (e *Elastic) DeleteDocument(ctx context.Context, index, id string) error {
	path := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id)
	_, err := e.do(ctx, http.MethodDelete, path, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// BulkUpsert implements Client using the NDJSON bulk API.
func (e *Elastic) BulkUpsert(ctx context.Context, index string, docs map[string]Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for id, doc := range docs {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_id": id}}); err != nil {
			return syncerrors.InternalError("cannot encode bulk action", err)
		}
		if err := enc.Encode(doc); err != nil {
			return syncerrors.InternalError("cannot encode bulk document", err)
		}
	}

	body, err := e.doRaw(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_bulk",
		buf.Bytes(), "application/x-ndjson")
	if err != nil {
		return err
	}

	var resp struct {
		Errors bool `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return syncerrors.SearchEngineError("cannot parse bulk response", err)
	}
	if resp.Errors {
		return syncerrors.SearchEngineError("bulk upsert reported item failures", nil).
			WithDetail("index", index).
			WithDetail("documents", fmt.Sprintf("%d", len(docs)))
	}
	return nil
}

// esSearchResponse is the subset of the search response we consume.
type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  float64         `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Value float64 `json:"value"`
	} `json:"aggregations"`
	Count *int64 `json:"count"`
}

// Search implements Client.
func (e *Elastic) Search(ctx context.Context, index string, query map[string]any) (*Result, error) {
	body, err := e.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", query)
	if err != nil {
		return nil, err
	}

	var resp esSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, syncerrors.SearchEngineError("cannot parse search response", err)
	}

	result := &Result{
		Total:         resp.Hits.Total.Value,
		DistinctCount: -1,
		Hits:          make([]Hit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		var source Document
		if len(h.Source) > 0 {
			if err := json.Unmarshal(h.Source, &source); err != nil {
				return nil, syncerrors.SearchEngineError("cannot parse hit source", err)
			}
		}
		result.Hits = append(result.Hits, Hit{ID: h.ID, Score: h.Score, Source: source})
	}
	if agg, ok := resp.Aggregations["distinct_count"]; ok {
		result.DistinctCount = int64(agg.Value)
	}
	return result, nil
}

// Count implements Client.
func (e *Elastic) Count(ctx context.Context, index string, query map[string]any) (int64, error) {
	var body map[string]any
	if query != nil {
		if q, ok := query["query"]; ok {
			body = map[string]any{"query": q}
		}
	}

	raw, err := e.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_count", body)
	if err != nil {
		return 0, err
	}

	var resp esSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, syncerrors.SearchEngineError("cannot parse count response", err)
	}
	if resp.Count == nil {
		return 0, syncerrors.SearchEngineError("count response carried no count", nil)
	}
	return *resp.Count, nil
}

// Close implements Client.
func (e *Elastic) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

func (e *Elastic) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, syncerrors.InternalError("cannot encode request body", err)
		}
	}
	return e.doRaw(ctx, method, path, payload, "application/json")
}

func (e *Elastic) doRaw(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	return syncerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, e.cfg.Endpoint+path,
			bytes.NewReader(payload))
		if err != nil {
			return nil, syncerrors.SearchEngineError("cannot build request", err)
		}
		if len(payload) > 0 {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := e.http.Do(req)
		if err != nil {
			return nil, syncerrors.SearchEngineError("request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, syncerrors.SearchEngineError("cannot read response", err)
		}

		switch {
		case resp.StatusCode < 400:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			// Not retryable and often not an error at the call site.
			return nil, syncerrors.Permanent(&notFoundError{path: path})
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, syncerrors.SearchEngineError(
				fmt.Sprintf("engine returned %d", resp.StatusCode), nil)
		default:
			return nil, syncerrors.Permanent(syncerrors.New(syncerrors.ErrCodeInvalidInput,
				fmt.Sprintf("engine rejected request (%d): %s", resp.StatusCode, truncate(string(body), 300)), nil))
		}
	})
}

// notFoundError marks a 404 so callers can treat absence as success.
type notFoundError struct {
	path string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.path)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *notFoundError
	return stderrors.As(err, &nf)
}

func (e *Elastic) head(ctx context.Context, path string) (int, error) {
	return syncerrors.RetryWithResult(ctx, e.cfg.Retry, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.cfg.Endpoint+path, nil)
		if err != nil {
			return 0, syncerrors.SearchEngineError("cannot build request", err)
		}
		resp, err := e.http.Do(req)
		if err != nil {
			return 0, syncerrors.SearchEngineError("request failed", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return 0, syncerrors.SearchEngineError(
				fmt.Sprintf("engine returned %d", resp.StatusCode), nil)
		}
		return resp.StatusCode, nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
