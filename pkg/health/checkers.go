package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a garbage collection that finished since the
// previous run paused the world longer than limit. Old pauses are not
// counted again, so the check recovers once collections get short.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	var (
		mu     sync.Mutex
		seenGC int64
	)
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		mu.Lock()
		fresh := stats.NumGC - seenGC
		seenGC = stats.NumGC
		mu.Unlock()

		// Pause is most recent first.
		for i := 0; i < len(stats.Pause) && int64(i) < fresh; i++ {
			if p := stats.Pause[i]; p > limit {
				return errors.Errorf("gc paused %s, limit %s", p, limit)
			}
		}
		return nil
	}
}

// Pinger reports whether a dependency is reachable. The repository DB and
// the redis client wrapper implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps p as a readiness check named after the dependency.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, name)
		}
		return nil
	}
}
