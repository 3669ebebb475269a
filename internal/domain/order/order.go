package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

// Sentinel errors for order operations.
var (
	ErrNotFound     = fault.New(fault.NotFound, "OrderNotFound", "order not found")
	ErrAccessDenied = fault.New(fault.AccessDenied, "AccessDenied", "access to this order is denied")
)

// PaymentStatus mirrors the status of the order's payment. It is pending
// until a payment exists.
type PaymentStatus string

const PaymentPending PaymentStatus = "pending"

// Order represents a committed customer purchase. Amounts are fixed at
// creation and never recomputed from the catalog.
type Order struct {
	ID              string
	UserID          string
	Items           []LineItem
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	CouponCode      string
	Status          Status
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	ShippingAddress Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// LineItem is a product quantity with the name, category and price captured
// when the order was placed.
type LineItem struct {
	ProductID string
	Name      string
	Category  product.Category
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total returns quantity × unit price.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Address is the shipping destination of an order.
type Address struct {
	FullName   string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Validate reports missing address fields under the shippingAddress prefix.
func (a Address) Validate(fe fault.FieldErrors) {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			fe.Add(fmt.Sprintf("shippingAddress.%s", f.name), "required")
		}
	}
}

// Categories returns the distinct item categories in item order.
func (o *Order) Categories() []product.Category {
	seen := make(map[product.Category]struct{}, len(o.Items))
	out := make([]product.Category, 0, len(o.Items))
	for _, li := range o.Items {
		if _, ok := seen[li.Category]; ok {
			continue
		}
		seen[li.Category] = struct{}{}
		out = append(out, li.Category)
	}
	return out
}

// Query filters order listings.
type Query struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}

// Repository defines persistence operations for orders. LockByID must be
// called inside a unit of work.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	LockByID(ctx context.Context, id string) (*Order, error)
	// Update persists status fields, payment status and timestamps.
	Update(ctx context.Context, o *Order) error
	// List returns matching orders, newest first.
	List(ctx context.Context, q Query) ([]Order, error)
}
