package papersources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

const (
	maxErrorBodyBytes    = 1 << 20
	maxResponseBodyBytes = 10 << 20
)

// HTTPClientConfig configures an HTTPClient for one paper source.
type HTTPClientConfig struct {
	// Name identifies the source in errors (e.g. "OpenAlex").
	Name string
	// Source labels requests reported to Observer (e.g. "openalex").
	Source string

	Timeout time.Duration

	// RateLimit is the sustained requests per second; BurstSize the bucket size.
	RateLimit float64
	BurstSize int

	// MaxRetries bounds retries of 429, 5xx and transport errors. The delay
	// doubles from RetryDelay up to MaxRetryDelay unless the server sends
	// Retry-After.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	UserAgent string

	// APIKey is sent in APIKeyHeader when both are set.
	APIKey       string
	APIKeyHeader string

	Observer RequestObserver
	Logger   zerolog.Logger
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.BurstSize == 0 {
		c.BurstSize = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "bibliometric-pipeline/1.0"
	}
	if c.Name == "" {
		c.Name = c.Source
	}
}

// HTTPClient sends rate limited, retried requests to a paper source API.
// It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
	config  HTTPClientConfig
	logger  zerolog.Logger
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()
	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
		logger:  cfg.Logger.With().Str("source", cfg.Source).Logger(),
	}
}

// GetJSON fetches url and decodes a 200 response into out. Any other status
// becomes a *domain.ExternalAPIError carrying the start of the body.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, header http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return domain.NewExternalAPIError(c.config.Name, resp.StatusCode, string(body), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Do sends req, waiting on the rate limiter before every attempt. Bodies are
// resent on retry only when req.GetBody is set.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		c.observe(err == nil && resp.StatusCode < 400)

		var cause error
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			cause = fmt.Errorf("request failed: %w", err)
		case retryable(resp.StatusCode):
			cause = fmt.Errorf("server returned status %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt >= c.config.MaxRetries {
			if resp != nil {
				drain(resp)
				return nil, fmt.Errorf("max retries exhausted after %d attempts, last status: %d", attempt+1, resp.StatusCode)
			}
			return nil, cause
		}

		delay := c.backoff(attempt, resp)
		if resp != nil {
			drain(resp)
		}
		c.logger.Debug().Err(cause).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying source request")

		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("cannot retry request: %w", err)
			}
			req.Body = body
		}
	}
}

func (c *HTTPClient) observe(success bool) {
	if c.config.Observer != nil {
		c.config.Observer.RecordSourceRequest(c.config.Source, success)
	}
}

// backoff honours Retry-After when present and positive, otherwise doubles
// RetryDelay per attempt. Both are capped at MaxRetryDelay.
func (c *HTTPClient) backoff(attempt int, resp *http.Response) time.Duration {
	delay := c.config.RetryDelay << uint(attempt)
	if resp != nil {
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			delay = d
		}
	}
	if delay <= 0 || delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		return d, d > 0
	}
	return 0, false
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
