// Package polygon is the Polygon.io market data client: REST endpoints for
// aggregates, option contracts, chain snapshots and Benzinga ratings, and the
// options WebSocket feed.
package polygon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"snoopflow/internal/errors"
	"snoopflow/internal/logging"
	"snoopflow/internal/metrics"
	"snoopflow/internal/resilience"
	"snoopflow/pkg/utils"
)

// DefaultBaseURL is the Polygon REST endpoint.
const DefaultBaseURL = "https://api.polygon.io"

// maxBodyBytes caps a single response body.
const maxBodyBytes = 32 << 20

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
	// RetryDelay is the first backoff delay. Zero uses the default.
	RetryDelay        time.Duration

	SnapshotTTL   time.Duration
	AggregatesTTL time.Duration
	ReferenceTTL  time.Duration

	// ProxyPrefixes whitelists the paths Proxy may forward.
	ProxyPrefixes []string

	Cache      Cache
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the Polygon REST API. It is safe for concurrent use; every
// caller shares one rate limiter and one circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   utils.RetryConfig
	cache   Cache
	logger  zerolog.Logger
}

// NewClient creates a Polygon client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = noCache{}
	}
	logger := logging.WithComponent(cfg.Logger, "polygon")

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}
	retry.ShouldRetry = func(err error) bool {
		return errors.IsRetryable(err) && !errors.Is(err, resilience.ErrCircuitOpen)
	}

	bcfg := resilience.DefaultCircuitBreakerConfig()
	bcfg.IsFailure = errors.IsRetryable
	bcfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		metrics.RecordCircuitState(name, string(to))
		logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("Circuit breaker state changed")
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		breaker: resilience.NewCircuitBreaker("polygon", bcfg),
		retry:   retry,
		cache:   cache,
		logger:  logger,
	}
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// get performs a cached, rate limited, retried GET and returns the raw body.
// endpoint is a low-cardinality label used for logs and metrics.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, ttl time.Duration) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidAPIKey, "POLYGON_API_KEY is not set")
	}
	if query == nil {
		query = url.Values{}
	}
	query.Del("apiKey")

	key := path
	if enc := query.Encode(); enc != "" {
		key += "?" + enc
	}
	if ttl > 0 {
		if body, ok := c.cache.Get(ctx, key); ok {
			return body, nil
		}
	}

	body, err := utils.RetryWithResult(ctx, c.retry, func() ([]byte, error) {
		return resilience.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return c.do(ctx, endpoint, key)
		})
	})
	if err != nil {
		return nil, err
	}

	if ttl > 0 {
		c.cache.Set(ctx, key, body, ttl)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint, pathAndQuery string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordAPICall(endpoint, 0, time.Since(start))
		logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrConnectionFailed, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.RecordAPICall(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)
		return nil, fmt.Errorf("%w: reading %s: %v", errors.ErrConnectionFailed, endpoint, err)
	}

	err = statusError(endpoint, resp.StatusCode, body)
	logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(endpoint string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewProviderError(endpoint, status, msg, errors.ErrInvalidAPIKey)
	case status == http.StatusNotFound:
		return errors.NewProviderError(endpoint, status, msg, errors.ErrNoData)
	case status == http.StatusTooManyRequests:
		return errors.NewProviderError(endpoint, status, msg, errors.ErrRateLimited)
	default:
		return errors.NewProviderError(endpoint, status, msg, nil)
	}
}
