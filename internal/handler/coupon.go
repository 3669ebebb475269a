package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

// ValidateCoupon evaluates a coupon against an order amount without
// consuming it.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupon.Request
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = decodeString(d, key)
		case "orderAmount":
			req.OrderAmount, err = decodeDecimal(d, key)
		case "categories":
			req.Categories, err = decodeCategories(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.validator.Validate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCouponResult(e, res) })
}

func decodeCategories(d *jx.Decoder, field string) ([]product.Category, error) {
	raw, err := decodeStrings(d, field)
	if err != nil {
		return nil, err
	}
	out := make([]product.Category, 0, len(raw))
	for i, s := range raw {
		c := product.Category(s)
		if !c.Valid() {
			return nil, fault.Invalid(fmt.Sprintf("%s[%d]", field, i), "unknown category")
		}
		out = append(out, c)
	}
	return out, nil
}

// ListCoupons lists coupons filtered by active and code prefix.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	fe := fault.FieldErrors{}
	q := coupon.Query{CodePrefix: r.URL.Query().Get("code")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			fe.Add("active", "must be true or false")
		}
		q.Active = &active
	}
	q.Limit, q.Offset = pageParams(r, fe)
	if err := fe.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	coupons, err := h.coupons.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { list(e, coupons, encodeCoupon) })
}

// CreateCoupon stores a new coupon. New coupons are active unless the body
// says otherwise.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var p coupon.Patch
	var code string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			var err error
			code, err = decodeString(d, key)
			return err
		}
		return decodePatchField(d, key, &p)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c := coupon.Coupon{Code: code, Active: true}
	p.Apply(&c)
	created, err := h.coupons.Create(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, created) })
}

// GetCoupon returns a coupon by code.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// UpdateCoupon applies the fields present in the body. The code and usage
// counter cannot be changed.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var p coupon.Patch
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		return decodePatchField(d, key, &p)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "code"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// DeactivateCoupon turns a coupon off. Coupons are never deleted.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func decodePatchField(d *jx.Decoder, key string, p *coupon.Patch) error {
	switch key {
	case "description":
		v, err := decodeString(d, key)
		p.Description = &v
		return err
	case "type":
		v, err := decodeString(d, key)
		t := coupon.DiscountType(v)
		p.Type = &t
		return err
	case "value", "minOrderAmount", "maxDiscount":
		v, err := decodeDecimal(d, key)
		if err != nil {
			return err
		}
		dst := map[string]**decimal.Decimal{
			"value":          &p.Value,
			"minOrderAmount": &p.MinOrderAmount,
			"maxDiscount":    &p.MaxDiscount,
		}[key]
		*dst = &v
		return nil
	case "usageLimit":
		v, err := decodeInt(d, key)
		p.UsageLimit = &v
		return err
	case "applicableCategories":
		v, err := decodeCategories(d, key)
		p.ApplicableCategories = &v
		return err
	case "validFrom":
		v, err := decodeTime(d, key)
		p.ValidFrom = &v
		return err
	case "validUntil":
		v, err := decodeTime(d, key)
		p.ValidUntil = &v
		return err
	case "active":
		v, err := decodeBool(d, key)
		p.Active = &v
		return err
	default:
		return d.Skip()
	}
}
