package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limited(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return RateLimiter(ctx, cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	h := limited(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	for range 2 {
		rec := hit(h, "10.0.0.1:1000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := hit(h, "10.0.0.1:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate limit exceeded", body.Error)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1000").Code, "other clients keep their own bucket")
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := limited(t, RateLimitConfig{})
	for range 50 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
}

func TestLimiters_Sweep(t *testing.T) {
	now := time.Unix(1000, 0)
	l := &limiters{cfg: RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, clients: map[string]*clientLimiter{}, now: func() time.Time { return now }}
	l.get("a")
	now = now.Add(time.Minute)
	l.get("b")
	now = now.Add(10 * time.Minute)

	l.sweep(10 * time.Minute)
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	assert.Equal(t, "::1", clientIP(req))

	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientIP(req))
}
