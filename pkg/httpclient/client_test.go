package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// retryingClient retries quickly so tests do not sleep for long.
func retryingClient(maxRetries int) *Client {
	return New(Config{
		Timeout:         5 * time.Second,
		MaxRetries:      maxRetries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 10,
	})
}

func send(t *testing.T, c *Client, ctx context.Context, method, url, body string) (*http.Response, error) {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	require.NoError(t, err)
	return c.Do(ctx, req)
}

// statusSequence answers with the given statuses in order, then 200.
func statusSequence(attempts *atomic.Int32, statuses ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(attempts.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryWaitMin)
	assert.Equal(t, 5*time.Second, cfg.RetryWaitMax)
	assert.Zero(t, cfg.RateLimit)
}

func TestDo_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		body         string
		statuses     []int
		wantStatus   int
		wantAttempts int32
	}{
		{"fetch cart recovers from 503s", http.MethodGet, "", []int{503, 502}, http.StatusOK, 3},
		{"throttled fetch is retried", http.MethodGet, "", []int{429}, http.StatusOK, 2},
		{"501 is final", http.MethodGet, "", []int{501}, http.StatusNotImplemented, 1},
		{"rejection is final", http.MethodPut, `{"quantity":101}`, []int{422}, http.StatusUnprocessableEntity, 1},
		{"add item is sent once", http.MethodPost, `{"product_id":"P1","quantity":1}`, []int{502}, http.StatusBadGateway, 1},
		{"remove item is retried", http.MethodDelete, "", []int{500}, http.StatusOK, 2},
		{"retries run out", http.MethodGet, "", []int{500, 500, 500, 500}, http.StatusInternalServerError, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(statusSequence(&attempts, tt.statuses...))
			defer server.Close()

			resp, err := send(t, retryingClient(3), context.Background(), tt.method, server.URL, tt.body)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestDo_RetriedPutResendsBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"quantity":2}`, string(body))
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := send(t, retryingClient(2), context.Background(), http.MethodPut, server.URL+"/cart/items/li-1", `{"quantity":2}`)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestDo_RetryAfterIsCappedAtMaxWait(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	start := time.Now()
	resp, err := send(t, retryingClient(1), context.Background(), http.MethodGet, server.URL, "")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), time.Second, "Retry-After must not exceed RetryWaitMax")
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{
		Timeout:         5 * time.Second,
		MaxConnsPerHost: 10,
		RateLimit:       0.001,
		RateBurst:       1,
	})

	// The first request consumes the single token.
	resp, err := send(t, client, context.Background(), http.MethodGet, server.URL, "")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = send(t, client, ctx, http.MethodGet, server.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestDo_ContextEndsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{
		Timeout:         5 * time.Second,
		MaxRetries:      10,
		RetryWaitMin:    100 * time.Millisecond,
		RetryWaitMax:    500 * time.Millisecond,
		MaxConnsPerHost: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := send(t, client, ctx, http.MethodGet, server.URL, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}

	for _, tt := range tests {
		got, ok := retryAfter(tt.header, now)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		assert.Equal(t, tt.want, got, "header %q", tt.header)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	c := New(Config{RetryWaitMin: 100 * time.Millisecond, RetryWaitMax: 300 * time.Millisecond})

	assert.InDelta(t, float64(100*time.Millisecond), float64(c.backoff(0)), float64(25*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64(c.backoff(1)), float64(50*time.Millisecond))
	assert.InDelta(t, float64(300*time.Millisecond), float64(c.backoff(5)), float64(75*time.Millisecond))
	assert.InDelta(t, float64(300*time.Millisecond), float64(c.backoff(70)), float64(75*time.Millisecond))
}

func TestIsIdempotent(t *testing.T) {
	assert.True(t, isIdempotent(http.MethodGet))
	assert.True(t, isIdempotent(http.MethodPut))
	assert.True(t, isIdempotent(http.MethodDelete))
	assert.False(t, isIdempotent(http.MethodPost))
	assert.False(t, isIdempotent(http.MethodPatch))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	// context.DeadlineExceeded implements net.Error.
	assert.True(t, isRetryableError(context.DeadlineExceeded))
}

func TestAddJitter(t *testing.T) {
	assert.Zero(t, addJitter(0))

	const base = time.Second
	seen := make(map[time.Duration]struct{})
	for range 100 {
		d := addJitter(base)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
		seen[d] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "jitter must vary")
}
