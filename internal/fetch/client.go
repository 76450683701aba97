// Package fetch provides the rate-limited, retrying HTTP client shared by
// all source scrapers. Transient failures (timeouts, connection errors,
// 5xx, 429) are retried with exponential backoff; other client errors
// fail immediately. 429 responses honor the Retry-After header.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumen-medical/medcollect/internal/logger"
	"github.com/lumen-medical/medcollect/internal/ratelimit"
)

// maxResponseBodyBytes limits the size of fetched responses.
const maxResponseBodyBytes = 50 * 1024 * 1024 // 50 MB

// maxRetryAfter caps how long a Retry-After header can stall a retry.
const maxRetryAfter = 2 * time.Minute

// Options configures a Client.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Limiter        *ratelimit.AdaptiveLimiter
	Robots         *RobotsChecker // nil disables robots checking
	Logger         logger.Interface
}

// Client is the HTTP client used by all scrapers. Each scraper owns its
// own Client so limiter state never crosses sources.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.AdaptiveLimiter
	robots     *RobotsChecker
	log        logger.Interface
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
}

// NewClient creates a Client from options.
func NewClient(opts Options) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		limiter:    opts.Limiter,
		robots:     opts.Robots,
		log:        opts.Logger,
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.RetryBaseDelay,
	}
}

// Get fetches rawURL and returns the response body. Retries transient
// failures up to MaxRetries times with exponential backoff (base delay
// doubling each attempt). On exhaustion or a non-retryable status it
// returns a *Error.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if c.robots != nil {
		allowed, robotsErr := c.robots.IsAllowed(ctx, rawURL)
		if robotsErr != nil {
			return nil, fmt.Errorf("robots check: %w", robotsErr)
		}

		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, rawURL)
		}
	}

	var (
		body       []byte
		attempts   int
		lastStatus int
	)

	operation := func() error {
		attempts++

		if c.limiter != nil {
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return backoff.Permanent(waitErr)
			}
		}

		fetched, statusCode, fetchErr := c.doRequest(ctx, rawURL)
		lastStatus = statusCode

		if fetchErr != nil {
			// Network-level failure: retryable.
			c.reportError(0)
			return fetchErr
		}

		if retryable, permanent := classifyStatus(statusCode); retryable {
			c.reportError(statusCode)
			c.log.Warn("transient fetch failure",
				"url", rawURL, "status", statusCode, "attempt", attempts)
			return &statusError{statusCode: statusCode}
		} else if permanent {
			c.reportError(statusCode)
			return backoff.Permanent(&statusError{statusCode: statusCode})
		}

		if c.limiter != nil {
			c.limiter.ReportSuccess()
		}

		body = fetched

		return nil
	}

	policy := c.newBackOff(ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &Error{
			URL:        rawURL,
			StatusCode: lastStatus,
			Attempts:   attempts,
			Err:        unwrapPermanent(err),
		}
	}

	return body, nil
}

// doRequest performs one HTTP GET attempt. A 429 response sleeps out any
// Retry-After header before returning so the subsequent retry respects
// the server's request.
func (c *Client) doRequest(ctx context.Context, rawURL string) (body []byte, statusCode int, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if reqErr != nil {
		return nil, 0, fmt.Errorf("create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json,application/xml,text/html;q=0.9,*/*;q=0.8")

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, 0, fmt.Errorf("http fetch: %w", doErr)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.sleepRetryAfter(ctx, resp.Header.Get("Retry-After"))
	}

	return body, resp.StatusCode, nil
}

// sleepRetryAfter honors a Retry-After header, capped.
func (c *Client) sleepRetryAfter(ctx context.Context, header string) {
	wait := retryAfterDelay(header, time.Now())
	if wait <= 0 {
		return
	}

	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}

	c.log.Info("honoring Retry-After", "wait", wait.String())

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// retryAfterDelay parses a Retry-After header, which carries either
// delta-seconds or an HTTP date. Unparseable or elapsed values yield
// zero.
func retryAfterDelay(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds <= 0 {
			return 0
		}

		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		return at.Sub(now)
	}

	return 0
}

// newBackOff builds the exponential retry policy: baseDelay, doubling,
// no jitter, bounded by maxRetries further attempts after the first.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.baseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = 5 * time.Minute
	expo.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)
}

// reportError feeds the adaptive limiter, if any.
func (c *Client) reportError(statusCode int) {
	if c.limiter != nil {
		c.limiter.ReportError(statusCode)
	}
}

// classifyStatus decides how to treat an HTTP status code.
// 2xx: success. 429 and 5xx: retryable. Other 4xx: permanent failure.
func classifyStatus(statusCode int) (retryable, permanent bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return false, false
	case statusCode == http.StatusTooManyRequests:
		return true, false
	case statusCode >= 500:
		return true, false
	default:
		return false, true
	}
}

// unwrapPermanent strips the backoff.PermanentError wrapper so callers
// see the underlying cause.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}

	return err
}
