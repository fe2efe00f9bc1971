// Package upstream implements the rate-limited client for the GitHub REST API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/metrics"
)

const (
	// DefaultBaseURL is the public GitHub REST API.
	DefaultBaseURL = "https://api.github.com"

	// DefaultMaxRetries bounds attempts per request.
	DefaultMaxRetries = 5

	// MinRateLimitWait is the shortest suspension after a rate-limit event.
	MinRateLimitWait = time.Second

	acceptHeader   = "application/vnd.github.v3+json"
	defaultTimeout = 10 * time.Second
)

// Coordinator shares quota state between every caller using one credential.
type Coordinator interface {
	Allow(ctx context.Context, endpoint string) (bool, time.Duration, error)
	Record(ctx context.Context, endpoint string) error
	RecordReset(ctx context.Context, endpoint string, until time.Time) error
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int

	// Limiter coordinates reset instants across goroutines. Optional.
	Limiter Coordinator
	// Pacer spaces requests independently of upstream signals. Optional.
	Pacer *rate.Limiter

	Logger *logging.Logger
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Client issues GET requests against the upstream API, waiting out rate
// limits. Its headers are fixed at construction and never mutated.
type Client struct {
	baseURL    string
	host       string
	headers    http.Header
	http       *http.Client
	maxRetries int
	limiter    Coordinator
	pacer      *rate.Limiter
	logger     *logging.Logger
	clock      func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New builds a client. The credential is resolved once here.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q: scheme and host are required", base)
	}

	headers := http.Header{}
	headers.Set("Accept", acceptHeader)
	if token := strings.TrimSpace(opts.Token); token != "" {
		tok, err := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}).Token()
		if err != nil {
			return nil, fmt.Errorf("resolve upstream credential: %w", err)
		}
		template := &http.Request{Header: http.Header{}}
		tok.SetAuthHeader(template)
		headers.Set("Authorization", template.Header.Get("Authorization"))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		baseURL:    base,
		host:       parsed.Host,
		headers:    headers,
		http:       httpClient,
		maxRetries: maxRetries,
		limiter:    opts.Limiter,
		pacer:      opts.Pacer,
		logger:     opts.Logger,
		clock:      opts.Clock,
		sleep:      sleep,
	}, nil
}

// MaxRetries reports the default attempt budget.
func (c *Client) MaxRetries() int {
	return c.maxRetries
}

// Fetch performs a GET on path, which is relative to the base URL and may
// carry a query string.
//
// A 200 response returns its JSON body. A 403 carrying remaining-quota headers
// is a rate-limit event: the call waits until the reset instant and retries,
// consuming only the attempt budget. Any other status, and transport failures,
// log and return a nil body with a nil error. When every attempt is consumed by
// rate-limit events Fetch returns core.ErrRetriesExhausted.
func (c *Client) Fetch(ctx context.Context, path string, maxRetries int) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}

	endpoint := c.endpointFor(path)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.awaitTurn(ctx, endpoint); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.RecordUpstreamRequest(endpoint, 0)
			c.warn("upstream request failed", zap.String("path", path), zap.Error(err))
			return nil, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
		metrics.RecordUpstreamRequest(endpoint, resp.StatusCode)

		quota := parseQuota(resp, c.now())
		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				c.warn("upstream body read failed", zap.String("path", path), zap.Error(readErr))
				return nil, nil
			}
			if quota.Exhausted() {
				c.recordReset(ctx, endpoint, quota.Reset)
			}
			return decodeBody(path, body)

		case resp.StatusCode == http.StatusForbidden && quota.Present:
			wait := waitUntil(quota.Reset, c.now())
			c.recordReset(ctx, endpoint, c.now().Add(wait))
			metrics.RecordRateLimitWait(endpoint, wait)
			if attempt == maxRetries {
				break
			}
			c.info("upstream rate limited, waiting for reset",
				zap.String("path", path),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxRetries),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			c.warn("upstream request returned non-success status",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return nil, nil
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts", core.ErrRetriesExhausted, path, maxRetries)
}

// Get fetches path with the default attempt budget and decodes the body into
// out. It reports false when the upstream returned no data.
func (c *Client) Get(ctx context.Context, path string, out any) (bool, error) {
	body, err := c.Fetch(ctx, path, c.maxRetries)
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		// Unexpected shapes are treated like any other unusable response.
		c.warn("upstream response has unexpected shape", zap.String("path", path), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers.Clone()
	return c.http.Do(req)
}

// awaitTurn blocks while the shared coordinator reports an active backoff,
// then applies local pacing and counts the request.
func (c *Client) awaitTurn(ctx context.Context, endpoint string) error {
	if c.limiter != nil {
		for {
			allowed, wait, err := c.limiter.Allow(ctx, endpoint)
			if err != nil {
				c.debug("rate limiter unavailable", zap.String("endpoint", endpoint), zap.Error(err))
				break
			}
			if allowed || wait <= 0 {
				break
			}
			c.debug("waiting on shared rate limit", zap.String("endpoint", endpoint), zap.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Record(ctx, endpoint); err != nil {
			c.debug("rate limiter record failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
	return nil
}

func (c *Client) recordReset(ctx context.Context, endpoint string, until time.Time) {
	if c.limiter == nil {
		return
	}
	if err := c.limiter.RecordReset(ctx, endpoint, until); err != nil {
		c.debug("rate limiter reset record failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (c *Client) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// endpointFor names the quota bucket a path draws from. Search has its own.
func (c *Client) endpointFor(path string) string {
	if strings.HasPrefix(strings.TrimPrefix(path, "/"), "search/") {
		return c.host + "/search"
	}
	return c.host
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now().UTC()
}

func (c *Client) info(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Client) warn(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}

func (c *Client) debug(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Debug(msg, fields...)
	}
}

func decodeBody(path string, body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, fmt.Errorf("decode upstream response for %s: %w", path, errInvalidJSON)
	}
	return json.RawMessage(trimmed), nil
}

var errInvalidJSON = errors.New("body is not valid JSON")

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
