// Package twitterapi talks to the web GraphQL API and turns its timelines
// into twitter.Items.
package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultBearerToken is the public token the web client ships with.
const DefaultBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

type (
	// Config is the upstream connection config.
	Config struct {
		BaseURL     string        `env:"BASE_URL, default=https://x.com/i/api"`
		BearerToken string        `env:"BEARER_TOKEN, default=AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"`
		AuthToken   string        `env:"AUTH_TOKEN"`
		CSRFToken   string        `env:"CSRF_TOKEN"`
		Timeout     time.Duration `env:"TIMEOUT, default=10s"`
		MaxRetries  uint64        `env:"MAX_RETRIES, default=2"`

		// Upstream requests per second, 0 is unlimited
		RateLimit float64 `env:"RATE_LIMIT, default=0"`
		RateBurst int     `env:"RATE_BURST, default=5"`
	}

	// Client performs GraphQL queries.
	Client struct {
		http       *http.Client
		baseURL    string
		authToken  string
		csrfToken  string
		maxRetries uint64
		backoff    time.Duration
		limiter    *rate.Limiter
	}
)

// APIError is a failed upstream call.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream error %d (code %d): %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

// Retryable reports whether the call may succeed if made again.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func NewClient(cfg Config) *Client {
	bearer := cfg.BearerToken
	if bearer == "" {
		bearer = DefaultBearerToken
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://x.com/i/api"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.RateBurst, 1)

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}),
				Base:   http.DefaultTransport,
			},
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  cfg.AuthToken,
		csrfToken:  cfg.CSRFToken,
		maxRetries: cfg.MaxRetries,
		backoff:    200 * time.Millisecond,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Authenticated reports whether the client carries a logged in session.
// The home timelines need one.
func (c *Client) Authenticated() bool {
	return c.authToken != "" && c.csrfToken != ""
}

// graphql runs the query for ep and returns the "data" object.
func (c *Client) graphql(ctx context.Context, ep endpoint, variables map[string]any) (gjson.Result, error) {
	u, err := c.graphqlURL(ep, variables)
	if err != nil {
		return gjson.Result{}, err
	}

	var data gjson.Result
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		d, err := c.do(ctx, u)
		data = d

		var apiErr *APIError
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		case errors.As(err, &apiErr) && !apiErr.Retryable():
			return err
		default:
			slog.DebugContext(ctx, "retrying upstream call", "endpoint", ep.name, "error", err)
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error calling %s: %w", ep.name, err)
	}

	return data, nil
}

func (c *Client) graphqlURL(ep endpoint, variables map[string]any) (string, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("error encoding variables: %s", err)
	}

	q := url.Values{}
	q.Set("variables", string(vars))
	q.Set("features", featuresJSON)
	if ep.fieldToggles != "" {
		q.Set("fieldToggles", ep.fieldToggles)
	}

	return fmt.Sprintf("%s/graphql/%s/%s?%s", c.baseURL, ep.queryID, ep.name, q.Encode()), nil
}

func (c *Client) do(ctx context.Context, u string) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error creating request: %s", err)
	}
	req.Header.Set("x-twitter-active-user", "yes")
	req.Header.Set("x-twitter-client-language", "en")
	if c.Authenticated() {
		req.Header.Set("x-twitter-auth-type", "OAuth2Session")
		req.Header.Set("x-csrf-token", c.csrfToken)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: c.authToken})
		req.AddCookie(&http.Cookie{Name: "ct0", Value: c.csrfToken})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if first := gjson.GetBytes(body, "errors.0"); first.Exists() {
			apiErr.Code = int(first.Get("code").Int())
			apiErr.Message = first.Get("message").String()
		}
		return gjson.Result{}, apiErr
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &APIError{Status: resp.StatusCode, Message: "invalid json body"}
	}

	parsed := gjson.ParseBytes(body)
	data := parsed.Get("data")
	// Partial errors come back next to the data and are ignored
	if !data.Exists() || len(data.Map()) == 0 {
		first := parsed.Get("errors.0")
		if first.Exists() {
			return gjson.Result{}, &APIError{
				Status:  resp.StatusCode,
				Code:    int(first.Get("code").Int()),
				Message: first.Get("message").String(),
			}
		}
	}

	return data, nil
}
