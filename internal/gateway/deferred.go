package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

// Deferred simulates an asynchronous processor. Charges start pending and
// settle once SettleAfter has elapsed since the charge. The charge time is
// encoded in the ULID reference, so lookups need no local state.
type Deferred struct {
	name        string
	prefix      string
	settleAfter time.Duration
	now         func() time.Time
}

var _ payment.Gateway = (*Deferred)(nil)

// NewDeferred creates an asynchronous gateway registered as name.
func NewDeferred(name string, settleAfter time.Duration) *Deferred {
	name = normalize(name)
	return &Deferred{
		name:        name,
		prefix:      strings.ToUpper(name) + "-",
		settleAfter: settleAfter,
		now:         time.Now,
	}
}

func (d *Deferred) Name() string { return d.name }

func (d *Deferred) Charge(_ context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if req.Amount.IsNegative() {
		return payment.ChargeResult{}, errors.Errorf("negative charge amount %s", req.Amount)
	}
	id := ulid.MustNew(ulid.Timestamp(d.now()), ulid.DefaultEntropy())
	return payment.ChargeResult{
		Status:    payment.StatusPending,
		Reference: d.prefix + id.String(),
	}, nil
}

func (d *Deferred) Refund(_ context.Context, req payment.RefundRequest) (string, error) {
	if _, err := d.parse(req.Reference); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", errors.Errorf("refund amount must be positive, got %s", req.Amount)
	}
	return d.prefix + "RFD-" + ulid.Make().String(), nil
}

// Lookup reports processing until the settle delay has passed, then completed.
func (d *Deferred) Lookup(_ context.Context, reference string) (payment.ChargeResult, error) {
	id, err := d.parse(reference)
	if err != nil {
		return payment.ChargeResult{}, err
	}
	status := payment.StatusProcessing
	if d.now().Sub(ulid.Time(id.Time())) >= d.settleAfter {
		status = payment.StatusCompleted
	}
	return payment.ChargeResult{Status: status, Reference: reference}, nil
}

func (d *Deferred) parse(reference string) (ulid.ULID, error) {
	raw, ok := strings.CutPrefix(reference, d.prefix)
	if !ok {
		return ulid.ULID{}, errors.Errorf("%s: unknown reference %q", d.name, reference)
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, errors.Wrapf(err, "%s: parse reference", d.name)
	}
	return id, nil
}
