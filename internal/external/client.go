// Package external is the boundary between memberpay's billing logic and the
// payment provider. Outbound HTTP goes through BaseClient: circuit breaker,
// jittered retries, idempotency keys and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"memberpay/internal/types"
)

const (
	breakerTripAfter = 5
	breakerCooldown  = 30 * time.Second
	breakerWindow    = time.Minute

	// Stripe's own verdict on whether a failed request may be replayed.
	headerShouldRetry = "Stripe-Should-Retry"
)

type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy matches stripe-go's default of two network retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     SleepFunc
	logger      *slog.Logger
}

type BaseClientOption func(*BaseClient)

func WithSleepFunc(fn SleepFunc) BaseClientOption {
	return func(c *BaseClient) { c.sleepFn = fn }
}

// WithLogger sets the logger that reports breaker transitions.
func WithLogger(logger *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewBaseClient builds a client with its own breaker named breakerName.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := newBaseClient(httpClient, policy, userAgent, opts)
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](c.breakerSettings(breakerName))
	return c
}

// NewBaseClientWithBreaker shares breaker with other clients.
func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := newBaseClient(httpClient, policy, userAgent, opts)
	c.breaker = breaker
	return c
}

func newBaseClient(httpClient *http.Client, policy RetryPolicy, userAgent string, opts []BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:      httpClient,
		retryPolicy: policy,
		userAgent:   userAgent,
		sleepFn:     contextSleep,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BaseClient) breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerWindow,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("gateway breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// upstreamStatusError marks a response the breaker counts as a failure.
type upstreamStatusError struct{ status int }

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// Do sends req. 429 and 5xx answers are retried unless Stripe says
// otherwise; every other status is returned and the caller closes the body.
// POST requests get an Idempotency-Key that is reused across retries so
// Stripe never applies a replay twice.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	body, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, lastErr = c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, upstreamStatusError{status: r.StatusCode}
			}
			return r, nil
		})
		if lastErr == nil {
			return resp, nil
		}

		if attempt >= c.retryPolicy.MaxRetries || !c.retryable(ctx, resp, lastErr) {
			break
		}
		wait := c.computeBackoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
		if err := c.sleepFn(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	if resp != nil {
		resp.Body.Close()
	}
	return nil, c.mapError(resp, lastErr)
}

func (c *BaseClient) prepare(req *http.Request) ([]byte, error) {
	if requestID := types.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Method == http.MethodPost && req.Header.Get("Idempotency-Key") == "" {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer gateway request body", err)
	}
	return body, nil
}

func (c *BaseClient) retryable(ctx context.Context, resp *http.Response, err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return resp == nil || resp.Header.Get(headerShouldRetry) != "false"
}

// computeBackoff prefers Retry-After, then falls back to full jitter over
// [MinWait, min(MinWait*2^attempt, MaxWait)].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	p := c.retryPolicy
	if wait, ok := retryAfter(resp); ok {
		return min(max(wait, p.MinWait), p.MaxWait)
	}

	ceiling := p.MaxWait
	if attempt < 32 {
		ceiling = min(p.MinWait<<attempt, p.MaxWait)
	}
	if ceiling <= p.MinWait {
		return p.MinWait
	}
	return p.MinWait + rand.N(ceiling-p.MinWait)
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "payment gateway circuit open", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "payment gateway rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("payment gateway returned %d", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "payment gateway request failed", err)
	}
}
