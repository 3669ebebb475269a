package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off the order.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

const maxCodeLen = 32

var (
	// ErrInvalidOrExpired is returned when no active coupon with the code is
	// valid at the current time.
	ErrInvalidOrExpired = fault.New(fault.PreconditionFailed, "InvalidOrExpiredCoupon", "invalid or expired coupon")
	// ErrUsageLimitExceeded is returned when a coupon has exhausted its allowed uses.
	ErrUsageLimitExceeded = fault.New(fault.PreconditionFailed, "UsageLimitExceeded", "coupon usage limit exceeded")
	// ErrNotApplicable is returned when none of the order categories match the coupon.
	ErrNotApplicable = fault.New(fault.PreconditionFailed, "NotApplicable", "coupon is not applicable to the items in this order")
	// ErrNotFound is returned by repositories when no coupon has the code.
	ErrNotFound = fault.New(fault.NotFound, "CouponNotFound", "coupon not found")
	// ErrUsageLimitBelowUsage is returned when a stored update would put the
	// usage limit below the uses already counted.
	ErrUsageLimitBelowUsage = fault.Invalid("usageLimit", "must be at least the current usage")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = fault.New(fault.Conflict, "DuplicateCoupon", "coupon code already exists")
)

// MinimumOrderNotMetError is returned when the order amount is below the
// coupon's minimum.
type MinimumOrderNotMetError struct {
	Required decimal.Decimal
}

func (e *MinimumOrderNotMetError) Error() string {
	return fmt.Sprintf("minimum order amount of %s required", e.Required.StringFixed(2))
}

func (e *MinimumOrderNotMetError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *MinimumOrderNotMetError) Code() string     { return "MinimumOrderNotMet" }

// Coupon is a named discount rule with validity and usage constraints.
type Coupon struct {
	Code                 string
	Description          string
	Type                 DiscountType
	Value                decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxDiscount          decimal.NullDecimal
	UsageLimit           *int
	UsedCount            int
	ApplicableCategories []product.Category
	ValidFrom            time.Time
	ValidUntil           time.Time
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon's own invariants.
func (c *Coupon) Validate() error {
	fe := fault.FieldErrors{}
	switch {
	case c.Code == "":
		fe.Add("code", "required")
	case len(c.Code) > maxCodeLen:
		fe.Add("code", fmt.Sprintf("must be at most %d characters", maxCodeLen))
	case c.Code != NormalizeCode(c.Code):
		fe.Add("code", "must be upper case without surrounding spaces")
	}
	if !c.Type.Valid() {
		fe.Add("type", "must be percentage or fixed")
	}
	if !c.Value.IsPositive() {
		fe.Add("value", "must be greater than 0")
	} else if c.Type == DiscountPercentage && c.Value.GreaterThan(hundred) {
		fe.Add("value", "percentage cannot exceed 100")
	}
	if c.MinOrderAmount.IsNegative() {
		fe.Add("minOrderAmount", "must not be negative")
	}
	if c.MaxDiscount.Valid && c.MaxDiscount.Decimal.IsNegative() {
		fe.Add("maxDiscount", "must not be negative")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 1 {
		fe.Add("usageLimit", "must be at least 1")
	} else if c.UsageLimit != nil && *c.UsageLimit < c.UsedCount {
		fe.Add("usageLimit", fmt.Sprintf("must be at least the current usage %d", c.UsedCount))
	}
	if c.UsedCount < 0 {
		fe.Add("usedCount", "must not be negative")
	}
	if c.ValidFrom.IsZero() {
		fe.Add("validFrom", "required")
	}
	if c.ValidUntil.IsZero() {
		fe.Add("validUntil", "required")
	}
	if !c.ValidFrom.IsZero() && !c.ValidUntil.IsZero() && !c.ValidFrom.Before(c.ValidUntil) {
		fe.Add("validUntil", "must be after validFrom")
	}
	for i, cat := range c.ApplicableCategories {
		if !cat.Valid() {
			fe.Add(fmt.Sprintf("applicableCategories[%d]", i), "unknown category")
		}
	}
	return fe.Err()
}

// LiveAt reports whether the coupon is active and its window contains now.
func (c *Coupon) LiveAt(now time.Time) bool {
	return c.Active && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Request is the order context a coupon is evaluated against.
type Request struct {
	Code        string
	OrderAmount decimal.Decimal
	// Categories of the order lines. Nil skips the category restriction;
	// an empty non-nil slice matches no restricted coupon.
	Categories []product.Category
}

// Validate checks request fields.
func (r Request) Validate() error {
	fe := fault.FieldErrors{}
	if NormalizeCode(r.Code) == "" {
		fe.Add("code", "required")
	}
	if r.OrderAmount.IsNegative() {
		fe.Add("orderAmount", "must not be negative")
	}
	return fe.Err()
}

// Result is the outcome of a successful coupon evaluation.
type Result struct {
	Code           string
	Description    string
	Valid          bool
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Query filters coupon listings.
type Query struct {
	Active *bool
	// CodePrefix matches codes starting with the (normalized) prefix.
	CodePrefix string
	Limit      int
	Offset     int
}

// Repository provides lookup and mutation of coupons. LockByCode and
// IncrementUsage are meant to run inside a unit of work.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	LockByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsage bumps usedCount unless the usage limit is reached, in
	// which case it returns ErrUsageLimitExceeded.
	IncrementUsage(ctx context.Context, code string) error
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Upsert(ctx context.Context, c *Coupon) error
	List(ctx context.Context, q Query) ([]Coupon, error)
}
