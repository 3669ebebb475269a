package gateway

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

const instantPrefix = "MOCK-"

// Instant is the mock gateway: every charge completes immediately.
type Instant struct{}

var _ payment.Gateway = Instant{}

func (Instant) Name() string { return payment.GatewayMock }

func (Instant) Charge(_ context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if req.Amount.IsNegative() {
		return payment.ChargeResult{}, errors.Errorf("negative charge amount %s", req.Amount)
	}
	return payment.ChargeResult{
		Status:    payment.StatusCompleted,
		Reference: instantPrefix + ulid.Make().String(),
	}, nil
}

func (Instant) Refund(_ context.Context, req payment.RefundRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", errors.Errorf("refund amount must be positive, got %s", req.Amount)
	}
	return instantPrefix + "RFD-" + ulid.Make().String(), nil
}

func (Instant) Lookup(_ context.Context, reference string) (payment.ChargeResult, error) {
	if !strings.HasPrefix(reference, instantPrefix) {
		return payment.ChargeResult{}, errors.Errorf("unknown reference %q", reference)
	}
	return payment.ChargeResult{Status: payment.StatusCompleted, Reference: reference}, nil
}
