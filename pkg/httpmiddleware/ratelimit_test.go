package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(5, time.Minute), nil)(okHandler())

	for i := range 5 {
		w := serve(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(2, time.Minute), nil)(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:9999").Code)
	}

	w := serve(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["status"])
	assert.Equal(t, "RateLimitExceeded", body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_DifferentIPs(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), nil)(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:5678").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	byUser := func(r *http.Request) string { return r.Header.Get("X-User") }
	h := RateLimit(NewMemoryLimiter(1, time.Minute), byUser)(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "", "X-User", "alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "", "X-User", "alice").Code)
	assert.Equal(t, http.StatusOK, serve(h, "", "X-User", "bob").Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), nil)(okHandler())

	xff := "203.0.113.50, 70.41.3.18"
	assert.Equal(t, http.StatusOK, serve(h, "192.168.1.1:4444", "X-Forwarded-For", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "192.168.1.2:5555", "X-Forwarded-For", xff).Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Time) (Quota, error) {
	return Quota{}, errors.New("connection refused")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenLimiter{}, nil)(okHandler())

	w := serve(h, "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(4, time.Minute)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		q, err := l.Allow(ctx, "k", start)
		require.NoError(t, err)
		require.True(t, q.Allowed)
	}
	q, err := l.Allow(ctx, "k", start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, q.Allowed)

	// A quarter into the next window three quarters of the previous count
	// still applies: 4*0.75 = 3, so one request fits.
	next := start.Add(time.Minute + 15*time.Second)
	q, err = l.Allow(ctx, "k", next)
	require.NoError(t, err)
	assert.True(t, q.Allowed)
	assert.Equal(t, 0, q.Remaining)

	q, err = l.Allow(ctx, "k", next)
	require.NoError(t, err)
	assert.False(t, q.Allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Now()
	_, err := l.Allow(context.Background(), "idle", now)
	require.NoError(t, err)

	assert.Equal(t, 0, l.Sweep(now.Add(time.Minute)))
	assert.Equal(t, 1, l.Sweep(now.Add(2*time.Minute)))
}
