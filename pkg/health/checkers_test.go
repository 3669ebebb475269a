package health

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit 0")
}

func TestGCMaxPauseCheck(t *testing.T) {
	check := GCMaxPauseCheck(time.Hour)
	runtime.GC()
	assert.NoError(t, check(context.Background()))

	// Pauses already seen are not counted again.
	strict := GCMaxPauseCheck(0)
	runtime.GC()
	assert.Error(t, strict(context.Background()))
	assert.NoError(t, strict(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	up := PingCheck("postgres", pingerFunc(func(context.Context) error { return nil }))
	assert.NoError(t, up(context.Background()))

	refused := errors.New("connection refused")
	down := PingCheck("postgres", pingerFunc(func(context.Context) error { return refused }))
	err := down(context.Background())
	require.ErrorIs(t, err, refused)
	assert.Equal(t, "postgres: connection refused", err.Error())
}
