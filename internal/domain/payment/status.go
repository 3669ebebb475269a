package payment

import (
	"fmt"
	"slices"
	"time"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

// Status is the settlement state of a payment.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
	StatusFailed:            nil,
	StatusCancelled:         nil,
	StatusRefunded:          nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Settled reports whether the gateway has reached a final answer for s.
func (s Status) Settled() bool {
	return s != StatusPending && s != StatusProcessing
}

// refundState reports whether s can only be entered through a refund.
func (s Status) refundState() bool {
	return s == StatusRefunded || s == StatusPartiallyRefunded
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// InvalidStatusTransitionError is returned for transitions outside the table.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("cannot change payment status from %s to %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *InvalidStatusTransitionError) Code() string     { return "InvalidStatusTransition" }

// transition applies a non-refund status change and stamps timestamps.
func (p *Payment) transition(target Status, reason string, now time.Time) error {
	if target.refundState() || !CanTransition(p.Status, target) {
		return &InvalidStatusTransitionError{From: p.Status, To: target}
	}
	p.Status = target
	p.UpdatedAt = now
	switch target {
	case StatusCompleted:
		p.PaidAt = &now
	case StatusFailed:
		p.FailedAt = &now
		p.FailureReason = reason
	case StatusCancelled:
		p.CancelledAt = &now
	}
	return nil
}

// applyRefund records r and moves the payment to refunded once the refunded
// total reaches the amount.
func (p *Payment) applyRefund(r Refund) error {
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return ErrNotRefundable
	}
	if r.Amount.GreaterThan(p.Refundable()) {
		return &RefundExceedsPaymentError{Requested: r.Amount, Available: p.Refundable()}
	}
	p.Refunds = append(p.Refunds, r)
	p.RefundedAmount = p.RefundedAmount.Add(r.Amount)
	p.Status = StatusPartiallyRefunded
	if p.RefundedAmount.Equal(p.Amount) {
		p.Status = StatusRefunded
	}
	at := r.RefundedAt
	p.RefundedAt = &at
	p.UpdatedAt = at
	return nil
}
