// Package rest is the signed HTTP transport shared by the venue adapters.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"cryptoSignalBot/internal/ports"
)

const maxBodyBytes = 4 << 20

// BuildFunc creates the HTTP request for one attempt. ts is the corrected venue
// time in unix milliseconds and must be used for any signature, so retries are
// re-signed rather than replayed.
type BuildFunc func(ctx context.Context, ts int64) (*http.Request, error)

// ClassifyFunc maps a venue response body to nil or a ports error.
type ClassifyFunc func(status int, body []byte) error

// Config holds transport settings for one venue.
type Config struct {
	Name              string        // Venue name for logs
	BaseURL           string        // Scheme and host, no trailing slash
	Timeout           time.Duration // Per-attempt timeout
	MaxAttempts       int           // Bounded retry count for desync/transport failures
	RetryMin          time.Duration // First backoff delay
	RetryMax          time.Duration // Backoff ceiling
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Client executes signed venue requests with rate limiting and a bounded
// attempt -> classify -> (resync | backoff) -> retry loop.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	clock   *Clock
	logger  ports.Logger
}

// NewClient creates a transport client. Defaults: 10s timeout, 3 attempts,
// 10 requests per second.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for %s rest client", cfg.Name)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required for %s", ports.ErrConfigurationError, cfg.Name)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		clock:   NewClock(nil),
		logger:  cfg.Logger,
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Clock returns the venue clock.
func (c *Client) Clock() *Clock { return c.clock }

// Send performs a single rate-limited attempt without clock correction or retries.
// It is used for public endpoints such as server time.
func (c *Client) Send(ctx context.Context, build BuildFunc, classify ClassifyFunc) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}
	return c.attempt(ctx, time.Now().UnixMilli(), build, classify)
}

// Do executes one logical request. Timestamp desync triggers a clock resync,
// transport failures trigger a backoff, and both retry up to MaxAttempts with a
// freshly built request. Any other error is returned immediately.
func (c *Client) Do(ctx context.Context, op string, build BuildFunc, classify ClassifyFunc) ([]byte, error) {
	if !c.clock.Synced() {
		if err := c.clock.Sync(ctx); err != nil {
			c.logger.Warn(ctx, op+": initial clock sync failed, using local time", map[string]interface{}{
				"exchange": c.cfg.Name, "error": err.Error(),
			})
		}
	}

	b := &backoff.Backoff{Min: c.cfg.RetryMin, Max: c.cfg.RetryMax, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
		}

		body, err := c.attempt(ctx, c.clock.Now(), build, classify)
		if err == nil {
			if attempt > 1 {
				c.logger.Info(ctx, op+" succeeded after retry", map[string]interface{}{"exchange": c.cfg.Name, "attempt": attempt})
			}
			return body, nil
		}
		lastErr = err

		fields := map[string]interface{}{"exchange": c.cfg.Name, "attempt": attempt, "maxAttempts": c.cfg.MaxAttempts, "error": err.Error()}
		switch {
		case errors.Is(err, ports.ErrTimestampDesync):
			c.logger.Warn(ctx, op+": timestamp rejected, resynchronizing clock", fields)
			if syncErr := c.clock.Sync(ctx); syncErr != nil {
				c.logger.Warn(ctx, op+": clock resync failed", map[string]interface{}{"exchange": c.cfg.Name, "error": syncErr.Error()})
			}
		case errors.Is(err, ports.ErrExchangeUnavailable), errors.Is(err, ports.ErrRateLimited):
			c.logger.Warn(ctx, op+": transient exchange failure", fields)
		default:
			return body, err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", op, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, ts int64, build BuildFunc, classify ClassifyFunc) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := build(reqCtx, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ports.ErrInvalidRequest, err)
	}
	// query strings carry signatures; log the path only
	c.logger.Debug(ctx, "Exchange request", map[string]interface{}{"exchange": c.cfg.Name, "method": req.Method, "path": req.URL.Path})
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ports.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ports.ErrExchangeUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return body, fmt.Errorf("%w: http %d", ports.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return body, fmt.Errorf("%w: http %d: %s", ports.ErrExchangeUnavailable, resp.StatusCode, snippet(body))
	}
	if classify == nil {
		return body, nil
	}
	return body, classify(resp.StatusCode, body)
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
