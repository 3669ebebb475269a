package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func strField(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

// optStrField omits empty values.
func optStrField(e *jx.Encoder, name, v string) {
	if v != "" {
		strField(e, name, v)
	}
}

func moneyField(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { money(e, v) })
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	e.Field(name, func(e *jx.Encoder) { timestamp(e, t) })
}

func optTimeField(e *jx.Encoder, name string, t *time.Time) {
	if t != nil {
		timeField(e, name, *t)
	}
}

func list[T any](e *jx.Encoder, items []T, item func(e *jx.Encoder, v *T)) {
	e.Arr(func(e *jx.Encoder) {
		for i := range items {
			item(e, &items[i])
		}
	})
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", p.ID)
		strField(e, "name", p.Name)
		optStrField(e, "description", p.Description)
		moneyField(e, "price", p.Price)
		strField(e, "category", string(p.Category))
		optStrField(e, "material", string(p.Material))
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("inStock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", o.ID)
		strField(e, "userId", o.UserID)
		e.Field("items", func(e *jx.Encoder) {
			list(e, o.Items, func(e *jx.Encoder, li *order.LineItem) {
				e.Obj(func(e *jx.Encoder) {
					strField(e, "productId", li.ProductID)
					strField(e, "name", li.Name)
					strField(e, "category", string(li.Category))
					e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
					moneyField(e, "price", li.UnitPrice)
					moneyField(e, "total", li.Total())
				})
			})
		})
		moneyField(e, "subtotal", o.Subtotal)
		moneyField(e, "discountAmount", o.DiscountAmount)
		moneyField(e, "totalAmount", o.TotalAmount)
		optStrField(e, "couponCode", o.CouponCode)
		strField(e, "status", string(o.Status))
		strField(e, "paymentStatus", string(o.PaymentStatus))
		optStrField(e, "paymentMethod", o.PaymentMethod)
		e.Field("shippingAddress", func(e *jx.Encoder) {
			a := o.ShippingAddress
			e.Obj(func(e *jx.Encoder) {
				strField(e, "fullName", a.FullName)
				strField(e, "street", a.Street)
				strField(e, "city", a.City)
				strField(e, "state", a.State)
				strField(e, "postalCode", a.PostalCode)
				strField(e, "country", a.Country)
				strField(e, "phone", a.Phone)
			})
		})
		timeField(e, "createdAt", o.CreatedAt)
		timeField(e, "updatedAt", o.UpdatedAt)
		optTimeField(e, "shippedAt", o.ShippedAt)
		optTimeField(e, "deliveredAt", o.DeliveredAt)
		optTimeField(e, "cancelledAt", o.CancelledAt)
	})
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", p.ID)
		strField(e, "orderId", p.OrderID)
		strField(e, "userId", p.UserID)
		moneyField(e, "amount", p.Amount)
		moneyField(e, "subtotal", p.Subtotal)
		moneyField(e, "discountAmount", p.DiscountAmount)
		strField(e, "currency", string(p.Currency))
		strField(e, "paymentMethod", string(p.Method))
		strField(e, "paymentGateway", p.Gateway)
		optStrField(e, "transactionId", p.TransactionID)
		optStrField(e, "gatewayTransactionId", p.GatewayTransactionID)
		optStrField(e, "cardLast4", p.CardLast4)
		optStrField(e, "cardBrand", p.CardBrand)
		strField(e, "status", string(p.Status))
		moneyField(e, "refundedAmount", p.RefundedAmount)
		moneyField(e, "refundableAmount", p.Refundable())
		e.Field("refunds", func(e *jx.Encoder) {
			list(e, p.Refunds, func(e *jx.Encoder, r *payment.Refund) {
				e.Obj(func(e *jx.Encoder) {
					moneyField(e, "amount", r.Amount)
					optStrField(e, "reason", r.Reason)
					timeField(e, "refundedAt", r.RefundedAt)
					optStrField(e, "refundTransactionId", r.TransactionID)
				})
			})
		})
		optStrField(e, "failureReason", p.FailureReason)
		optTimeField(e, "paidAt", p.PaidAt)
		optTimeField(e, "failedAt", p.FailedAt)
		optTimeField(e, "cancelledAt", p.CancelledAt)
		optTimeField(e, "refundedAt", p.RefundedAt)
		timeField(e, "createdAt", p.CreatedAt)
		timeField(e, "updatedAt", p.UpdatedAt)
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "code", c.Code)
		optStrField(e, "description", c.Description)
		strField(e, "type", string(c.Type))
		e.Field("value", func(e *jx.Encoder) { e.Num(jx.Num(c.Value.String())) })
		moneyField(e, "minOrderAmount", c.MinOrderAmount)
		if c.MaxDiscount.Valid {
			moneyField(e, "maxDiscount", c.MaxDiscount.Decimal)
		}
		if c.UsageLimit != nil {
			e.Field("usageLimit", func(e *jx.Encoder) { e.Int(*c.UsageLimit) })
		}
		e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("applicableCategories", func(e *jx.Encoder) {
			list(e, c.ApplicableCategories, func(e *jx.Encoder, cat *product.Category) {
				e.Str(string(*cat))
			})
		})
		timeField(e, "validFrom", c.ValidFrom)
		timeField(e, "validUntil", c.ValidUntil)
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
		timeField(e, "createdAt", c.CreatedAt)
		timeField(e, "updatedAt", c.UpdatedAt)
	})
}

func encodeCouponResult(e *jx.Encoder, r *coupon.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(r.Valid) })
		strField(e, "code", r.Code)
		optStrField(e, "description", r.Description)
		moneyField(e, "discountAmount", r.DiscountAmount)
		moneyField(e, "finalAmount", r.FinalAmount)
	})
}
