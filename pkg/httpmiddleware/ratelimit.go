package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Quota is the outcome of a single rate limit decision.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Quota, error)
}

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(*http.Request) string

// RateLimit rejects requests over the limiter's quota with 429. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A failing limiter lets the request through.
// A nil key defaults to ClientIP.
func RateLimit(l Limiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q, err := l.Allow(r.Context(), key(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))
			if q.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(time.Until(q.ResetAt), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			WriteError(w, r, Error{
				Kind:    "rate_limited",
				Code:    "RateLimitExceeded",
				Message: "rate limit exceeded",
				Status:  http.StatusTooManyRequests,
			})
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window tracks counts of two adjacent windows for one key.
type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// MemoryLimiter is a per-process sliding window limiter. The previous
// window's count is weighted by how much of it the sliding window still
// overlaps.
type MemoryLimiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per period for each key.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{currStart: now}
		l.windows[key] = w
	}
	if now.Sub(w.currStart) >= l.period {
		w.prevCount, w.prevStart = w.currCount, w.currStart
		w.currCount, w.currStart = 0, now.Truncate(l.period)
		if now.Sub(w.prevStart) >= 2*l.period {
			w.prevCount = 0
		}
	}

	overlap := max(1-now.Sub(w.currStart).Seconds()/l.period.Seconds(), 0)
	used := w.prevCount*overlap + w.currCount
	q := Quota{Limit: l.max, ResetAt: w.currStart.Add(l.period)}
	if used >= float64(l.max) {
		return q, nil
	}

	w.currCount++
	q.Allowed = true
	q.Remaining = max(int(float64(l.max)-used-1), 0)
	return q, nil
}

// Sweep drops keys idle for two periods.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.period {
			delete(l.windows, key)
			n++
		}
	}
	return n
}

// Run sweeps idle keys every two periods until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RedisLimiter is a fixed window limiter shared by every replica using the
// same redis.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	period time.Duration
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows limit requests per period for each key. Counters
// are stored under prefix.
func NewRedisLimiter(client redis.UniversalClient, limit int, period time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, max: limit, period: period, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Quota, error) {
	start := now.Truncate(l.period)
	counter := l.prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, counter)
	pipe.PExpire(ctx, counter, l.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return Quota{}, errors.Wrap(err, "count request")
	}

	used := int(incr.Val())
	return Quota{
		Limit:     l.max,
		Remaining: max(l.max-used, 0),
		ResetAt:   start.Add(l.period),
		Allowed:   used <= l.max,
	}, nil
}
