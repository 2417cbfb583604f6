package escrowd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(60, 2)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"), "keys are limited independently")

	now = now.Add(time.Second)
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(60, 1)
	limiter.now = func() time.Time { return now }
	require.True(t, limiter.Allow("a"))
	now = now.Add(visitorTTL + time.Minute)
	require.True(t, limiter.Allow("b"))
	limiter.mu.Lock()
	_, kept := limiter.visitors["a"]
	limiter.mu.Unlock()
	require.False(t, kept)
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, 1)
	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow("a"))
	}
	var nilLimiter *RateLimiter
	require.True(t, nilLimiter.Allow("a"))
}

func TestRateLimiterMiddlewareKeys(t *testing.T) {
	limiter := NewRateLimiter(60, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	serve := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	anon.RemoteAddr = "10.0.0.1:4000"
	require.Equal(t, http.StatusOK, serve(anon))
	anon.RemoteAddr = "10.0.0.1:4001"
	require.Equal(t, http.StatusTooManyRequests, serve(anon))

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.RemoteAddr = "10.0.0.1:4002"
	authed = authed.WithContext(WithIdentity(authed.Context(), Identity{Account: [20]byte{0x01}}))
	require.Equal(t, http.StatusOK, serve(authed), "identity key is separate from the address key")
}
