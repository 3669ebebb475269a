// Package worker runs background jobs next to the API server.
package worker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

const (
	defaultBatchSize = 100
	maxBackoff       = time.Hour
)

// Payments is the part of the payment service the settlement worker needs.
type Payments interface {
	Unsettled(ctx context.Context, olderThan time.Duration, skip []string, limit int) ([]payment.Payment, error)
	Sync(ctx context.Context, pay payment.Payment) (bool, error)
}

// backoff tracks a payment whose sync keeps failing.
type backoff struct {
	failures int
	retryAt  time.Time
}

// Settlement polls asynchronous gateways for payments that are still pending
// or processing and applies their current status.
//
// A payment whose sync fails is left out of the following passes for a
// delay that doubles with every failure, up to an hour, so payments that
// can never sync do not fill every batch. Tick is not safe for concurrent
// use.
type Settlement struct {
	payments  Payments
	interval  time.Duration
	minAge    time.Duration
	batchSize int
	now       func() time.Time

	failing map[string]backoff
}

// NewSettlement creates a settlement worker. Payments younger than minAge
// are left alone so a fresh charge is not polled straight away.
func NewSettlement(payments Payments, interval, minAge time.Duration) *Settlement {
	return &Settlement{
		payments:  payments,
		interval:  interval,
		minAge:    minAge,
		batchSize: defaultBatchSize,
		now:       time.Now,
		failing:   make(map[string]backoff),
	}
}

// Run ticks until ctx is done.
func (w *Settlement) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("settlement")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lg.Info("Settlement worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("min_age", w.minAge),
	)
	for {
		select {
		case <-ctx.Done():
			lg.Info("Settlement worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				lg.Error("Settlement pass failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one settlement pass and returns how many payments changed.
// A failure on one payment is logged and does not stop the pass.
func (w *Settlement) Tick(ctx context.Context) (int, error) {
	lg := zctx.From(ctx)
	now := w.now()

	skip := make([]string, 0, len(w.failing))
	for id, b := range w.failing {
		if now.Before(b.retryAt) {
			skip = append(skip, id)
		}
	}
	pending, err := w.payments.Unsettled(ctx, w.minAge, skip, w.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list unsettled")
	}

	changed := 0
	for _, pay := range pending {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := w.payments.Sync(ctx, pay)
		if err != nil {
			b := w.failing[pay.ID]
			b.failures++
			b.retryAt = now.Add(w.delay(b.failures))
			w.failing[pay.ID] = b
			lg.Warn("Sync payment",
				zap.String("payment_id", pay.ID),
				zap.String("gateway", pay.Gateway),
				zap.Int("failures", b.failures),
				zap.Time("retry_at", b.retryAt),
				zap.Error(err),
			)
			continue
		}
		delete(w.failing, pay.ID)
		if ok {
			changed++
		}
	}
	if changed > 0 {
		lg.Info("Settled payments", zap.Int("changed", changed), zap.Int("checked", len(pending)))
	}
	// Forget payments that settled some other way while backed off.
	for id, b := range w.failing {
		if now.Sub(b.retryAt) > maxBackoff {
			delete(w.failing, id)
		}
	}
	return changed, nil
}

// delay is interval doubled per consecutive failure, capped at maxBackoff.
func (w *Settlement) delay(failures int) time.Duration {
	d := max(w.interval, time.Second)
	for i := 1; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
