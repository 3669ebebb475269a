package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// InvalidStatusTransitionError is returned for transitions outside the table.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *InvalidStatusTransitionError) Code() string     { return "InvalidStatusTransition" }

// transition moves o to target and stamps the matching timestamp.
func (o *Order) transition(target Status, now time.Time) error {
	if !CanTransition(o.Status, target) {
		return &InvalidStatusTransitionError{From: o.Status, To: target}
	}
	o.Status = target
	o.UpdatedAt = now
	switch target {
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
	return nil
}
