// Package event defines domain events emitted after a state change commits.
package event

import (
	"context"
	"time"
)

// Type names a domain event.
type Type string

const (
	OrderCreated         Type = "order.created"
	OrderStatusChanged   Type = "order.status_changed"
	PaymentCreated       Type = "payment.created"
	PaymentStatusChanged Type = "payment.status_changed"
	PaymentRefunded      Type = "payment.refunded"
)

// Event is a fact about an aggregate. Data carries flat string attributes so
// that every publisher can encode it without reflection.
type Event struct {
	ID          string
	Type        Type
	AggregateID string
	OccurredAt  time.Time
	Data        map[string]string
}

// Publisher delivers events to downstream consumers. Publish is called after
// the owning transaction commits; failures never undo the change.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
