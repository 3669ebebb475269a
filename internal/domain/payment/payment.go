// Package payment settles orders through gateways and tracks refunds.
//
// Every status change goes through the transition table in status.go. The
// owning order's paymentStatus is written in the same unit of work as the
// payment itself, so the two never disagree after a commit.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

// Method is how the customer pays.
type Method string

const (
	MethodCreditCard     Method = "credit_card"
	MethodDebitCard      Method = "debit_card"
	MethodPayPal         Method = "paypal"
	MethodStripe         Method = "stripe"
	MethodCashOnDelivery Method = "cash_on_delivery"
)

// Valid reports whether m is a supported payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodPayPal, MethodStripe, MethodCashOnDelivery:
		return true
	}
	return false
}

// Currency is an ISO 4217 code accepted for payments.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyINR Currency = "INR"
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyINR:
		return true
	}
	return false
}

// Sentinel errors for payment operations.
var (
	ErrNotFound        = fault.New(fault.NotFound, "PaymentNotFound", "payment not found")
	ErrAlreadyExists   = fault.New(fault.Conflict, "PaymentAlreadyExists", "a payment already exists for this order")
	ErrNotRefundable   = fault.New(fault.PreconditionFailed, "PaymentNotRefundable", "only completed payments can be refunded")
	ErrOrderNotPayable = fault.New(fault.PreconditionFailed, "OrderNotPayable", "cancelled orders cannot be paid")
	ErrAccessDenied    = fault.New(fault.AccessDenied, "AccessDenied", "access to this payment is denied")
	// ErrNothingToPay is returned for orders whose discount covers the whole
	// subtotal. Such orders carry no payment.
	ErrNothingToPay = fault.New(fault.PreconditionFailed, "NothingToPay", "order total is zero, no payment is needed")
)

// RefundExceedsPaymentError is returned when a refund would take the refunded
// total above the payment amount.
type RefundExceedsPaymentError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *RefundExceedsPaymentError) Error() string {
	return fmt.Sprintf("refund of %s exceeds the refundable amount %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *RefundExceedsPaymentError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *RefundExceedsPaymentError) Code() string     { return "RefundExceedsPayment" }

// Payment is the settlement record of exactly one order.
type Payment struct {
	ID                   string
	OrderID              string
	UserID               string
	Amount               decimal.Decimal
	Subtotal             decimal.Decimal
	DiscountAmount       decimal.Decimal
	Currency             Currency
	Method               Method
	Gateway              string
	TransactionID        string
	GatewayTransactionID string
	CardLast4            string
	CardBrand            string
	Status               Status
	RefundedAmount       decimal.Decimal
	Refunds              []Refund
	FailureReason        string
	PaidAt               *time.Time
	FailedAt             *time.Time
	CancelledAt          *time.Time
	RefundedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Refundable returns the amount that can still be refunded.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// Refund is one partial or full reversal of a payment.
type Refund struct {
	Amount        decimal.Decimal
	Reason        string
	RefundedAt    time.Time
	TransactionID string
}

// Query filters payment listings.
type Query struct {
	Status  Status
	Gateway string
	Method  Method
	UserID  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// Repository persists payments. LockByID must be called inside a unit of work.
type Repository interface {
	// Create inserts p and returns ErrAlreadyExists when the order already
	// has a payment.
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	LockByID(ctx context.Context, id string) (*Payment, error)
	// Update persists status, refunds and timestamps.
	Update(ctx context.Context, p *Payment) error
	// List returns matching payments, newest first.
	List(ctx context.Context, q Query) ([]Payment, error)
	// ListUnsettled returns pending or processing payments through gateways
	// other than excludeGateway created before olderThan, oldest first,
	// leaving out the ids in skip.
	ListUnsettled(ctx context.Context, excludeGateway string, olderThan time.Time, skip []string, limit int) ([]Payment, error)
}
