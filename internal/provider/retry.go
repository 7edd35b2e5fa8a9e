package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy bounds how often a stream is re-opened after a transient
// failure. Only opening is retried; a stream that has started is never
// replayed because its text may already be in the thread.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryPolicy = retryPolicy{maxRetries: 3, baseDelay: time.Second, maxDelay: 30 * time.Second}

// statusError is a non-2xx answer from a model endpoint.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode >= 500 || e.statusCode == http.StatusTooManyRequests
}

// backoff is quadratic in the attempt number with up to 50% jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * p.baseDelay
	d := base + time.Duration(rand.Int64N(int64(base/2+1)))
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// doWithRetry opens a request, retrying network failures, 5xx and 429.
// Any other non-2xx answer is returned as a *statusError without retrying.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = policy.backoff(attempt)
			}
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait = 0
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		serr := &statusError{statusCode: resp.StatusCode, body: string(body)}
		if !serr.retryable() {
			return nil, serr
		}
		lastErr = serr
		if d, ok := retryAfter(resp); ok {
			wait = min(d, policy.maxDelay)
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", policy.maxRetries, lastErr)
}
