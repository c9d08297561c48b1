package sparql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/semweb/searchsync/internal/auth"
	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// Authorization context headers, one per dimension. The endpoint (or the
// authorization proxy in front of it) interprets them; an empty header
// means "no groups", not "all data".
const (
	HeaderAllowedGroups = "MU-AUTH-ALLOWED-GROUPS"
	HeaderUsedGroups    = "MU-AUTH-USED-GROUPS"
	HeaderSudo          = "MU-AUTH-SUDO"
)

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// Endpoint is the SPARQL query endpoint.
	Endpoint string
	// UpdateEndpoint is the SPARQL update endpoint (defaults to Endpoint).
	UpdateEndpoint string
	// PoolSize bounds in-flight requests to the endpoint.
	PoolSize int
	// AcquireTimeout bounds waiting for a pool slot.
	AcquireTimeout time.Duration
	// Retry configures backoff for transient failures.
	Retry syncerrors.RetryConfig
}

// Client is the HTTP implementation of Executor. Concurrent requests are
// admitted through a fixed-size pool; exhaustion surfaces as a hard error
// after AcquireTimeout rather than queueing indefinitely.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	pool *semaphore.Weighted
}

var _ Executor = (*Client)(nil)

// NewClient creates a SPARQL client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.UpdateEndpoint == "" {
		cfg.UpdateEndpoint = cfg.Endpoint
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = syncerrors.DefaultRetryConfig()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
		pool: semaphore.NewWeighted(int64(cfg.PoolSize)),
	}
}

// selectResponse is the SPARQL 1.1 JSON results format.
type selectResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []Binding `json:"bindings"`
	} `json:"results"`
	Boolean *bool `json:"boolean"`
}

// Select implements Executor.
func (c *Client) Select(ctx context.Context, ac auth.Context, query string) (*Results, error) {
	resp, err := c.query(ctx, ac, query)
	if err != nil {
		return nil, err
	}
	return &Results{Vars: resp.Head.Vars, Bindings: resp.Results.Bindings}, nil
}

// Ask implements Executor.
func (c *Client) Ask(ctx context.Context, ac auth.Context, query string) (bool, error) {
	resp, err := c.query(ctx, ac, query)
	if err != nil {
		return false, err
	}
	if resp.Boolean == nil {
		return false, syncerrors.TriplestoreError("ASK response carried no boolean", nil)
	}
	return *resp.Boolean, nil
}

// Update implements Executor.
func (c *Client) Update(ctx context.Context, ac auth.Context, query string) error {
	_, err := c.roundTrip(ctx, ac, c.cfg.UpdateEndpoint, url.Values{"update": {query}})
	return err
}

// Ping checks endpoint liveness with a trivial query outside any
// authorization scope.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Ask(ctx, auth.Sudo(), "ASK {}")
	return err
}

func (c *Client) query(ctx context.Context, ac auth.Context, query string) (*selectResponse, error) {
	body, err := c.roundTrip(ctx, ac, c.cfg.Endpoint, url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}
	var resp selectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, syncerrors.TriplestoreError("cannot parse SPARQL results", err)
	}
	return &resp, nil
}

func (c *Client) roundTrip(ctx context.Context, ac auth.Context, endpoint string, form url.Values) ([]byte, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()
	if err := c.pool.Acquire(acquireCtx, 1); err != nil {
		return nil, syncerrors.New(syncerrors.ErrCodePoolTimeout,
			"triplestore connection pool exhausted", err)
	}
	defer c.pool.Release(1)

	return syncerrors.RetryWithResult(ctx, c.cfg.Retry, func() ([]byte, error) {
		return c.doOnce(ctx, ac, endpoint, form)
	})
}

func (c *Client) doOnce(ctx context.Context, ac auth.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, syncerrors.TriplestoreError("cannot build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	applyAuthHeaders(req, ac)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerrors.TriplestoreError("request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.TriplestoreError("cannot read response", err)
	}

	if resp.StatusCode >= 400 {
		slog.Debug("triplestore request failed",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))
		err := syncerrors.TriplestoreError(
			fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
		// Only 429 and 5xx are worth retrying; any other 4xx means the
		// request itself is wrong and will fail identically every time.
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, syncerrors.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}

// applyAuthHeaders propagates the authorization context onto the request.
func applyAuthHeaders(req *http.Request, ac auth.Context) {
	if ac.Sudo {
		req.Header.Set(HeaderSudo, "true")
		return
	}
	req.Header.Set(HeaderAllowedGroups, auth.Serialize(ac.AllowedGroups))
	if len(ac.UsedGroups) > 0 {
		req.Header.Set(HeaderUsedGroups, auth.Serialize(ac.UsedGroups))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
