package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fastRetry = retryPolicy{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}

func getReq(ctx context.Context, url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoWithRetry_RecoversFromServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "overloaded", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	resp, err := doWithRetry(ctx, srv.Client(), fastRetry, getReq(ctx, srv.URL), testLogger())
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoWithRetry_GivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	_, err := doWithRetry(ctx, srv.Client(), fastRetry, getReq(ctx, srv.URL), testLogger())
	var serr *statusError
	if !errors.As(err, &serr) || serr.statusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped 503 status error, got %v", err)
	}
	if calls != fastRetry.maxRetries+1 {
		t.Fatalf("expected %d calls, got %d", fastRetry.maxRetries+1, calls)
	}
}

func TestDoWithRetry_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := retryPolicy{maxRetries: 3, baseDelay: time.Hour, maxDelay: time.Hour}
	_, err := doWithRetry(ctx, srv.Client(), slow, getReq(ctx, srv.URL), testLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := retryPolicy{maxRetries: 5, baseDelay: time.Second, maxDelay: 3 * time.Second}
	if d := p.backoff(1); d < time.Second || d > 3*time.Second {
		t.Fatalf("attempt 1 backoff %v out of range", d)
	}
	if d := p.backoff(4); d != 3*time.Second {
		t.Fatalf("attempt 4 backoff %v, want cap", d)
	}
}
