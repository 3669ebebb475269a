package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func intPtr(v int) *int { return &v }

func save20() *Coupon {
	return &Coupon{
		Code:           "SAVE20",
		Description:    "20% off, up to 50",
		Type:           DiscountPercentage,
		Value:          d("20"),
		MinOrderAmount: d("100"),
		MaxDiscount:    decimal.NewNullDecimal(d("50")),
		ValidFrom:      fixedNow.Add(-24 * time.Hour),
		ValidUntil:     fixedNow.Add(24 * time.Hour),
		Active:         true,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		coupon    func() *Coupon
		req       Request
		wantDisc  string
		wantFinal string
		wantErr   error
		wantCode  string
	}{
		{
			name:      "SAVE20 on 400 is capped at maxDiscount",
			coupon:    save20,
			req:       Request{Code: "save20", OrderAmount: d("400")},
			wantDisc:  "50",
			wantFinal: "350",
		},
		{
			name:      "SAVE20 below the cap",
			coupon:    save20,
			req:       Request{Code: "SAVE20", OrderAmount: d("150")},
			wantDisc:  "30",
			wantFinal: "120",
		},
		{
			name:     "SAVE20 on 90 misses the minimum",
			coupon:   save20,
			req:      Request{Code: "SAVE20", OrderAmount: d("90")},
			wantCode: "MinimumOrderNotMet",
		},
		{
			name: "fixed discount clamps to the order amount",
			coupon: func() *Coupon {
				c := save20()
				c.Type = DiscountFixed
				c.Value = d("75")
				c.MinOrderAmount = decimal.Zero
				return c
			},
			req:       Request{Code: "SAVE20", OrderAmount: d("60")},
			wantDisc:  "60",
			wantFinal: "0",
		},
		{
			name: "percentage without cap",
			coupon: func() *Coupon {
				c := save20()
				c.MaxDiscount = decimal.NullDecimal{}
				return c
			},
			req:       Request{Code: "SAVE20", OrderAmount: d("1000")},
			wantDisc:  "200",
			wantFinal: "800",
		},
		{
			name: "percentage rounds to cents",
			coupon: func() *Coupon {
				c := save20()
				c.Value = d("15")
				c.MinOrderAmount = decimal.Zero
				c.MaxDiscount = decimal.NullDecimal{}
				return c
			},
			req:       Request{Code: "SAVE20", OrderAmount: d("33.33")},
			wantDisc:  "5",
			wantFinal: "28.33",
		},
		{
			name: "inactive coupon",
			coupon: func() *Coupon {
				c := save20()
				c.Active = false
				return c
			},
			req:     Request{Code: "SAVE20", OrderAmount: d("400")},
			wantErr: ErrInvalidOrExpired,
		},
		{
			name: "expired coupon",
			coupon: func() *Coupon {
				c := save20()
				c.ValidUntil = fixedNow.Add(-time.Minute)
				return c
			},
			req:     Request{Code: "SAVE20", OrderAmount: d("400")},
			wantErr: ErrInvalidOrExpired,
		},
		{
			name: "not yet valid",
			coupon: func() *Coupon {
				c := save20()
				c.ValidFrom = fixedNow.Add(time.Minute)
				return c
			},
			req:     Request{Code: "SAVE20", OrderAmount: d("400")},
			wantErr: ErrInvalidOrExpired,
		},
		{
			name: "usage limit reached",
			coupon: func() *Coupon {
				c := save20()
				c.UsageLimit = intPtr(10)
				c.UsedCount = 10
				return c
			},
			req:     Request{Code: "SAVE20", OrderAmount: d("400")},
			wantErr: ErrUsageLimitExceeded,
		},
		{
			name: "category mismatch",
			coupon: func() *Coupon {
				c := save20()
				c.ApplicableCategories = []product.Category{product.CategoryWatches}
				return c
			},
			req:     Request{Code: "SAVE20", OrderAmount: d("400"), Categories: []product.Category{product.CategoryRings}},
			wantErr: ErrNotApplicable,
		},
		{
			name: "category intersection",
			coupon: func() *Coupon {
				c := save20()
				c.ApplicableCategories = []product.Category{product.CategoryWatches, product.CategoryRings}
				return c
			},
			req: Request{
				Code:        "SAVE20",
				OrderAmount: d("100"),
				Categories:  []product.Category{product.CategoryEarrings, product.CategoryRings},
			},
			wantDisc:  "20",
			wantFinal: "80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.coupon().Evaluate(tt.req, fixedNow)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			case tt.wantCode != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, fault.CodeOf(err))
				assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
				return
			}

			require.NoError(t, err)
			assert.True(t, got.Valid)
			assert.True(t, d(tt.wantDisc).Equal(got.DiscountAmount), "discount %s", got.DiscountAmount)
			assert.True(t, d(tt.wantFinal).Equal(got.FinalAmount), "final %s", got.FinalAmount)
			assert.False(t, got.DiscountAmount.GreaterThan(tt.req.OrderAmount))
		})
	}
}

func TestEvaluate_MinimumOrderNotMetCarriesRequired(t *testing.T) {
	_, err := save20().Evaluate(Request{Code: "SAVE20", OrderAmount: d("90")}, fixedNow)

	var minErr *MinimumOrderNotMetError
	require.ErrorAs(t, err, &minErr)
	assert.True(t, d("100").Equal(minErr.Required))
	assert.Equal(t, "minimum order amount of 100.00 required", err.Error())
}

func TestCoupon_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Coupon)
		wantField string
	}{
		{name: "valid", mutate: func(*Coupon) {}},
		{name: "lower case code", mutate: func(c *Coupon) { c.Code = "save20" }, wantField: "code"},
		{name: "missing code", mutate: func(c *Coupon) { c.Code = "" }, wantField: "code"},
		{name: "unknown type", mutate: func(c *Coupon) { c.Type = "bogo" }, wantField: "type"},
		{name: "zero value", mutate: func(c *Coupon) { c.Value = decimal.Zero }, wantField: "value"},
		{name: "percentage over 100", mutate: func(c *Coupon) { c.Value = d("101") }, wantField: "value"},
		{name: "fixed over 100 is fine", mutate: func(c *Coupon) { c.Type = DiscountFixed; c.Value = d("500") }},
		{name: "usage limit zero", mutate: func(c *Coupon) { c.UsageLimit = intPtr(0) }, wantField: "usageLimit"},
		{name: "window reversed", mutate: func(c *Coupon) { c.ValidUntil = c.ValidFrom }, wantField: "validUntil"},
		{name: "unknown category", mutate: func(c *Coupon) { c.ApplicableCategories = []product.Category{"hats"} }, wantField: "applicableCategories[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := save20()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, fault.FieldsOf(err), tt.wantField)
		})
	}
}
