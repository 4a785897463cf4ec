package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/pkg/logger"
)

// doerFunc adapts a function to the Doer interface.
type doerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f doerFunc) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

func respond(status int, body string) doerFunc {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
}

func tripFast(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func cartRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://commerce.test/api/cart", nil)
	require.NoError(t, err)
	return req
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("commerce-api")
	assert.Equal(t, "commerce-api", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_PassesHealthyResponses(t *testing.T) {
	cb := NewCircuitBreakerClient(respond(http.StatusOK, `{"data":{"items":[]}}`), tripFast("cb-healthy"), logger.Discard())

	resp, err := cb.Do(context.Background(), cartRequest(t))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"data":{"items":[]}}`, string(body))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_ServerErrorsBecomeStatusErrors(t *testing.T) {
	cb := NewCircuitBreakerClient(respond(http.StatusBadGateway, "upstream down"), tripFast("cb-status"), logger.Discard())

	_, err := cb.Do(context.Background(), cartRequest(t))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream down", statusErr.Body)
}

func TestCircuitBreaker_TripsAndRefusesWithoutSending(t *testing.T) {
	for _, status := range []int{http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var sent atomic.Int32
			next := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
				sent.Add(1)
				return respond(status, "")(ctx, req)
			})
			cb := NewCircuitBreakerClient(next, tripFast("cb-trip-"+http.StatusText(status)), logger.Discard())

			for range 2 {
				_, err := cb.Do(context.Background(), cartRequest(t))
				require.Error(t, err)
			}
			require.Equal(t, gobreaker.StateOpen, cb.State())

			_, err := cb.Do(context.Background(), cartRequest(t))
			assert.ErrorIs(t, err, ErrCircuitOpen)
			assert.Equal(t, int32(2), sent.Load(), "open breaker must not reach the upstream")
		})
	}
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreakerClient(respond(http.StatusUnprocessableEntity, `{"error":{"code":"INVALID_COUPON"}}`), tripFast("cb-4xx"), logger.Discard())

	for range 5 {
		resp, err := cb.Do(context.Background(), cartRequest(t))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_CallerCancellationDoesNotTrip(t *testing.T) {
	next := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, context.Canceled
	})
	cb := NewCircuitBreakerClient(next, tripFast("cb-cancel"), logger.Discard())

	for range 5 {
		_, err := cb.Do(context.Background(), cartRequest(t))
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_NetworkErrorsTrip(t *testing.T) {
	next := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	cb := NewCircuitBreakerClient(next, tripFast("cb-network"), logger.Discard())

	for range 2 {
		_, _ = cb.Do(context.Background(), cartRequest(t))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cb := NewCircuitBreakerClient(New(Config{Timeout: 2 * time.Second}), tripFast("cb-recover"), logger.Discard())
	do := func() error {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/api/cart", nil)
		require.NoError(t, err)
		resp, err := cb.Do(context.Background(), req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	}

	for range 2 {
		require.Error(t, do())
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, do())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCountsAsFailure(t *testing.T) {
	assert.True(t, countsAsFailure(http.StatusInternalServerError))
	assert.True(t, countsAsFailure(http.StatusGatewayTimeout))
	assert.True(t, countsAsFailure(http.StatusTooManyRequests))
	assert.False(t, countsAsFailure(http.StatusNotFound))
	assert.False(t, countsAsFailure(http.StatusUnauthorized))
	assert.False(t, countsAsFailure(http.StatusOK))
}
