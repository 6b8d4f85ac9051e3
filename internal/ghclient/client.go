// Package ghclient is the GitHub GraphQL API collaborator. One Client is
// constructed at process start and passed into every component that needs
// it; there is no ambient global. All calls share a rate limiter and retry
// transient failures with exponential backoff.
package ghclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const defaultEndpoint = "https://api.github.com/graphql"

// Client executes GraphQL queries against the GitHub v4 API.
type Client struct {
	token      string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint (tests point this at a local
// server).
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the request rate limiter.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New builds a client for the given bearer token. An empty token is a
// configuration error: the caller should fail startup with a clear message
// rather than defer the failure to the first API call.
func New(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("GitHub token is required: set GITHUB_TOKEN or pass a token")
	}
	c := &Client{
		token:      token,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// GitHub's GraphQL API budget is generous but shared across every
		// repository a cycle touches; one request per second with a small
		// burst keeps a large sweep well under the secondary limits.
		limiter:    rate.NewLimiter(rate.Limit(1), 5),
		maxRetries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// execute runs one GraphQL query and decodes the "data" object into out.
// Network failures, 429s and 5xx responses are retried with exponential
// backoff; 4xx responses and GraphQL-level errors are permanent.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing graphql request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading graphql response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("github api returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("github api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		}

		var gr graphqlResponse
		if err := json.Unmarshal(raw, &gr); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding graphql response: %w", err))
		}
		if len(gr.Errors) > 0 {
			msgs := make([]string, len(gr.Errors))
			for i, e := range gr.Errors {
				msgs[i] = e.Message
			}
			return backoff.Permanent(fmt.Errorf("graphql errors: %s", strings.Join(msgs, ", ")))
		}
		if out != nil {
			if err := json.Unmarshal(gr.Data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding graphql data: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

// splitRepository splits "owner/repo" into its parts.
func splitRepository(repository string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository %q: want owner/repo", repository)
	}
	return owner, name, nil
}
