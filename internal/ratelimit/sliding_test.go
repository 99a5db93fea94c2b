package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) *Sliding {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &Sliding{Client: client, Prefix: "rl:", Window: window, Max: max}
}

func TestSlidingAllowWithinLimit(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Second)

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i)
	}

	decision, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
}

func TestSlidingKeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Second)

	first, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := limiter.Allow(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
}

func TestSlidingDisabledWithoutClient(t *testing.T) {
	var limiter *Sliding
	decision, err := limiter.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMiddlewareReturns429WithHeaders(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Second)
	wrapped := Middleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/invoices", nil)
	req.RemoteAddr = "10.0.0.9:4411"

	first := httptest.NewRecorder()
	wrapped.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := httptest.NewRecorder()
	wrapped.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareFailsOpenOnRedisError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	limiter := &Sliding{Client: client, Prefix: "rl:", Window: time.Second, Max: 1}

	var observed error
	wrapped := Middleware(limiter, func(err error) { observed = err })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoices", nil)
	req.RemoteAddr = "10.0.0.9:4411"
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Error(t, observed)
}
