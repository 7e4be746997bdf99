package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/medleyhq/medley/pkg/retry"
)

// Client implements Store against an HTTP document store API.
//
// Reads (Query, Count) are retried with backoff on transport errors and 5xx
// responses; mutations are single-shot so that a slow success is never
// duplicated by a retry.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// NewClient creates a new remote store client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token sent with every request.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

type queryRequest struct {
	Query     Query `json:"query"`
	CountOnly bool  `json:"countOnly,omitempty"`
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
	Count  int             `json:"count"`
}

type transactionRequest struct {
	Mutations []Mutation `json:"mutations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Query runs a structured read and decodes the result list into out.
func (c *Client) Query(ctx context.Context, q Query, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/query", queryRequest{Query: q}, &resp, true); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode query result: %w", err)
		}
		return nil
	})
}

// Count runs a count-only query.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	var count int
	err := retry.Do(ctx, c.retryConfig, func() error {
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/query", queryRequest{Query: q, CountOnly: true}, &resp, true); err != nil {
			return err
		}
		count = resp.Count
		return nil
	})
	return count, err
}

// Create stores a new document and decodes the created document (with its
// assigned id and revision token) into out.
func (c *Client) Create(ctx context.Context, doc any, out any) error {
	return c.do(ctx, http.MethodPost, "/api/v1/documents", doc, out, false)
}

// Patch applies a conditional field patch and decodes the updated document
// into out.
func (c *Client) Patch(ctx context.Context, id string, p Patch, out any) error {
	return c.do(ctx, http.MethodPatch, "/api/v1/documents/"+url.PathEscape(id), p, out, false)
}

// Transaction commits the given mutations all-or-nothing.
func (c *Client) Transaction(ctx context.Context, muts []Mutation) error {
	return c.do(ctx, http.MethodPost, "/api/v1/transactions", transactionRequest{Mutations: muts}, nil, false)
}

// do issues one request. Transport errors and 5xx responses are marked
// retryable only when retryable is set (reads).
func (c *Client) do(ctx context.Context, method, path string, body any, out any, retryable bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if retryable {
			return retry.Retryable(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := c.statusError(resp)
		if retryable && resp.StatusCode >= 500 {
			return retry.Retryable(err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps an error response to a typed error. 412 Precondition
// Failed is the store's signal for a revision-guard rejection.
func (c *Client) statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", body.Error, ErrStaleRevision)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", body.Error, ErrNotFound)
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: body.Error}
}
