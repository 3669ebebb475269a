package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
)

// CreateOrder places an order for the caller.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeItems(d)
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		case "couponCode":
			req.CouponCode, err = decodeString(d, key)
		case "paymentMethod":
			req.PaymentMethod, err = decodeString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func decodeItems(d *jx.Decoder) ([]inventory.Line, error) {
	if d.Next() != jx.Array {
		return nil, fault.Invalid("items", "must be an array")
	}
	var lines []inventory.Line
	err := d.Arr(func(d *jx.Decoder) error {
		prefix := fmt.Sprintf("items[%d]", len(lines))
		if d.Next() != jx.Object {
			return fault.Invalid(prefix, "must be an object")
		}
		var line inventory.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				line.ProductID, err = decodeString(d, prefix+".productId")
			case "quantity":
				line.Quantity, err = decodeInt(d, prefix+".quantity")
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	if d.Next() != jx.Object {
		return a, fault.Invalid("shippingAddress", "must be an object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "fullName":
			dst = &a.FullName
		case "street":
			dst = &a.Street
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "postalCode":
			dst = &a.PostalCode
		case "country":
			dst = &a.Country
		case "phone":
			dst = &a.Phone
		default:
			return d.Skip()
		}
		v, err := decodeString(d, "shippingAddress."+key)
		*dst = v
		return err
	})
	return a, err
}

// GetOrder returns an order owned by the caller, or any order for admins.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	q, err := orderQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q.UserID = ""
	orders, err := h.orders.ListMine(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { list(e, orders, encodeOrder) })
}

// ListAllOrders returns orders of every user. Admin only.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	q, err := orderQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, err := h.orders.ListAll(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { list(e, orders, encodeOrder) })
}

func orderQuery(r *http.Request) (order.Query, error) {
	fe := fault.FieldErrors{}
	q := order.Query{
		UserID: r.URL.Query().Get("userId"),
		Status: order.Status(r.URL.Query().Get("status")),
	}
	q.Limit, q.Offset = pageParams(r, fe)
	return q, fe.Err()
}

// SetOrderStatus moves an order along its fulfilment lifecycle. Admin only.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var target order.Status
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := decodeString(d, key)
		target = order.Status(s)
		return err
	})
	if err == nil && !target.Valid() {
		err = fault.Invalid("status", "unknown order status")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.SetStatus(r.Context(), principal(r), chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
