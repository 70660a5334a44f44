// Package github is the issue source: a GraphQL client for GitHub's v4 API
// with app or token authentication, client-side pacing and distinct
// rate-limit errors.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/retry"
)

const userAgent = "firstcommit-indexer"

// TokenSource yields a bearer credential for every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token.
type StaticToken string

// Token returns the token itself.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", &apperrors.AuthError{Op: "token", Err: fmt.Errorf("no GitHub token configured")}
	}
	return string(s), nil
}

// Client is a thin wrapper around GitHub's GraphQL endpoint.
// It covers just the queries the indexer needs.
type Client struct {
	http       *http.Client
	graphqlURL string
	auth       TokenSource
	limiter    *rate.Limiter
	rps        rate.Limit
	policy     retry.Policy
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGraphQLURL overrides the endpoint (GitHub Enterprise, tests).
func WithGraphQLURL(u string) Option { return func(c *Client) { c.graphqlURL = u } }

// WithHTTPClient replaces the transport client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// WithRate sets the steady request rate; rps <= 0 disables pacing.
func WithRate(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.rps = rate.Inf
		} else {
			c.rps = rate.Limit(rps)
		}
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// NewClient returns a ready-to-use client.
func NewClient(auth TokenSource, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		graphqlURL: "https://api.github.com/graphql",
		auth:       auth,
		rps:        1,
		policy:     retry.Default,
		logger:     slog.Default().With("component", "github"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = rate.NewLimiter(c.rps, 1)
	return c
}

// Authenticate obtains (or reuses) a credential, surfacing AuthError before
// any real work starts.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.auth.Token(ctx)
	return err
}

// gqlError is one entry of a GraphQL "errors" array.
type gqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

// alias returns the first path element, the top-level field that failed.
func (e gqlError) alias() string {
	if len(e.Path) == 0 {
		return ""
	}
	s, _ := e.Path[0].(string)
	return s
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// errorsError reports GraphQL errors that came back without usable data.
type errorsError []gqlError

func (e errorsError) Error() string {
	if len(e) == 1 {
		return "github graphql: " + e[0].Message
	}
	return fmt.Sprintf("github graphql: %s (and %d more)", e[0].Message, len(e)-1)
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github: unexpected status %d: %s", e.Code, e.Body)
}

// query executes one GraphQL request. Rate-limit conditions are detected
// first and come back as RateLimitError; GraphQL errors accompanying data
// are returned in the response for the caller to attribute.
func (c *Client) query(ctx context.Context, q string, vars map[string]any) (*gqlResponse, error) {
	payload, err := json.Marshal(map[string]any{"query": q, "variables": vars})
	if err != nil {
		return nil, err
	}

	var out *gqlResponse
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.Classify("github rate limiter", err)
		}
		resp, err := c.do(ctx, payload)
		if err != nil {
			if !transient(err) {
				return retry.Stop(err)
			}
			return apperrors.Classify("github graphql", err)
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, payload []byte) (*gqlResponse, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	var parsed gqlResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if rl := detectRateLimit(resp.StatusCode, resp.Header, parsed.Errors, body); rl != nil {
		c.logger.Warn("rate limit reached", "reset_at", rl.ResetAt, "msg", rl.Message)
		return nil, rl
	}
	c.pace(resp.Header)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &apperrors.AuthError{Op: "graphql", Err: &statusError{Code: resp.StatusCode, Body: snippet(body)}}
	case resp.StatusCode >= 300:
		return nil, &statusError{Code: resp.StatusCode, Body: snippet(body)}
	case decodeErr != nil:
		return nil, fmt.Errorf("github: decode response: %w", decodeErr)
	}

	if len(parsed.Errors) > 0 && (len(parsed.Data) == 0 || string(parsed.Data) == "null") {
		return nil, errorsError(parsed.Errors)
	}
	return &parsed, nil
}

// pace slows the limiter when the reported quota would run out before the
// window resets, so long sweeps spread their calls evenly.
func (c *Client) pace(h http.Header) {
	remaining, okR := headerInt(h, "X-RateLimit-Remaining")
	reset, okT := headerInt(h, "X-RateLimit-Reset")
	if !okR || !okT || remaining <= 0 {
		return
	}
	window := time.Until(time.Unix(int64(reset), 0))
	if window <= 0 {
		c.limiter.SetLimit(c.rps)
		return
	}
	quota := rate.Limit(float64(remaining) / window.Seconds())
	c.limiter.SetLimit(min(quota, c.rps))
}

// transient reports whether a failed request may succeed when repeated:
// network errors and 5xx responses, not malformed queries.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ge errorsError
	return !errors.As(err, &ge)
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
