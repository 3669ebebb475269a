package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

// GatewayMock settles charges synchronously and is the default gateway.
const GatewayMock = "mock"

// ErrUnsupportedGateway is returned when no gateway is registered under a name.
var ErrUnsupportedGateway = fault.Invalid("paymentGateway", "unsupported payment gateway")

// ChargeRequest asks a gateway to collect an amount for an order.
type ChargeRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  Currency
	Method    Method
}

// ChargeResult is the gateway's immediate answer to a charge.
type ChargeResult struct {
	// Status is completed for synchronous gateways and pending or processing
	// for gateways that settle later.
	Status        Status
	Reference     string
	FailureReason string
}

// RefundRequest asks a gateway to return part of a charge.
type RefundRequest struct {
	PaymentID string
	Reference string
	Amount    decimal.Decimal
	Currency  Currency
	Reason    string
}

// Gateway is an abstract payment processor.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// Refund returns the gateway reference of the refund.
	Refund(ctx context.Context, req RefundRequest) (string, error)
	// Lookup reports the current status of a charge by reference.
	Lookup(ctx context.Context, reference string) (ChargeResult, error)
}

// Gateways resolves gateways by name. An empty name selects the default.
type Gateways interface {
	Resolve(name string) (Gateway, error)
}
