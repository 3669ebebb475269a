package coupon

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Evaluate applies the coupon to req at time now. It is pure: usage counters
// are not touched.
func (c *Coupon) Evaluate(req Request, now time.Time) (Result, error) {
	if !c.LiveAt(now) {
		return Result{}, ErrInvalidOrExpired
	}
	amount := req.OrderAmount
	if amount.LessThan(c.MinOrderAmount) {
		return Result{}, &MinimumOrderNotMetError{Required: c.MinOrderAmount}
	}
	if c.Exhausted() {
		return Result{}, ErrUsageLimitExceeded
	}
	if !c.appliesTo(req.Categories) {
		return Result{}, ErrNotApplicable
	}

	var discount decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		discount = applyPercentage(c, amount)
	default:
		discount = c.Value
	}

	// A coupon never takes the order below zero.
	discount = floorAtZero(decimal.Min(discount, amount)).Round(2)

	return Result{
		Code:           c.Code,
		Description:    c.Description,
		Valid:          true,
		DiscountAmount: discount,
		FinalAmount:    amount.Sub(discount).Round(2),
	}, nil
}

func applyPercentage(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	discount := amount.Mul(c.Value).Div(hundred)
	if c.MaxDiscount.Valid {
		discount = decimal.Min(discount, c.MaxDiscount.Decimal)
	}
	return discount
}

func (c *Coupon) appliesTo(categories []product.Category) bool {
	if len(c.ApplicableCategories) == 0 || categories == nil {
		return true
	}
	for _, cat := range categories {
		if slices.Contains(c.ApplicableCategories, cat) {
			return true
		}
	}
	return false
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
