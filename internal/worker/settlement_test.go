package worker

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

type mockPayments struct {
	mu        sync.Mutex
	pending   []payment.Payment
	listErr   error
	syncErr   map[string]error
	changed   map[string]bool
	synced    []string
	olderThan time.Duration
	skipped   []string
}

func (m *mockPayments) Unsettled(_ context.Context, olderThan time.Duration, skip []string, limit int) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.olderThan = olderThan
	m.skipped = skip
	var out []payment.Payment
	for _, p := range m.pending {
		if len(out) == limit {
			break
		}
		if !slices.Contains(skip, p.ID) {
			out = append(out, p)
		}
	}
	return out, m.listErr
}

func (m *mockPayments) Sync(_ context.Context, pay payment.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, pay.ID)
	if err := m.syncErr[pay.ID]; err != nil {
		return false, err
	}
	return m.changed[pay.ID], nil
}

func TestSettlement_Tick(t *testing.T) {
	m := &mockPayments{
		pending: []payment.Payment{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		syncErr: map[string]error{"b": errors.New("gateway timeout")},
		changed: map[string]bool{"a": true, "c": false},
	}
	w := NewSettlement(m, time.Second, 30*time.Second)

	changed, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, []string{"a", "b", "c"}, m.synced)
	assert.Equal(t, 30*time.Second, m.olderThan)
}

func TestSettlement_TickBacksOffFailingPayments(t *testing.T) {
	m := &mockPayments{
		pending: []payment.Payment{{ID: "stuck"}, {ID: "fresh"}},
		syncErr: map[string]error{"stuck": errors.New("gateway not configured")},
		changed: map[string]bool{"fresh": true},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewSettlement(m, time.Minute, 0)
	w.batchSize = 1
	w.now = func() time.Time { return now }
	ctx := context.Background()

	// The oldest payment fails and takes the whole batch.
	changed, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
	assert.Equal(t, []string{"stuck"}, m.synced)

	// While backed off it is skipped, so the next payment gets its turn.
	now = now.Add(30 * time.Second)
	changed, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, []string{"stuck"}, m.skipped)
	assert.Equal(t, []string{"stuck", "fresh"}, m.synced)

	// Retried once the delay passes, then backed off twice as long.
	m.pending = m.pending[:1]
	now = now.Add(time.Minute)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, m.skipped)
	assert.Equal(t, []string{"stuck", "fresh", "stuck"}, m.synced)
	assert.Equal(t, 2, w.failing["stuck"].failures)
	assert.Equal(t, now.Add(2*time.Minute), w.failing["stuck"].retryAt)

	// A successful sync clears the backoff.
	delete(m.syncErr, "stuck")
	now = now.Add(2 * time.Minute)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.NotContains(t, w.failing, "stuck")
}

func TestSettlement_Delay(t *testing.T) {
	w := NewSettlement(&mockPayments{}, time.Minute, 0)
	assert.Equal(t, time.Minute, w.delay(1))
	assert.Equal(t, 2*time.Minute, w.delay(2))
	assert.Equal(t, 8*time.Minute, w.delay(4))
	assert.Equal(t, time.Hour, w.delay(20))
}

func TestSettlement_TickListError(t *testing.T) {
	m := &mockPayments{listErr: errors.New("db down")}
	_, err := NewSettlement(m, time.Second, 0).Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list unsettled")
}

func TestSettlement_RunStopsWithContext(t *testing.T) {
	m := &mockPayments{pending: []payment.Payment{{ID: "a"}}, changed: map[string]bool{"a": true}}
	w := NewSettlement(m, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.synced) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
