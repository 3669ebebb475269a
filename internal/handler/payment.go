package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

// CreatePayment charges an order through a gateway. An order can be paid
// only once.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "orderId":
			req.OrderID, err = decodeString(d, key)
		case "paymentMethod":
			v, err = decodeString(d, key)
			req.Method = payment.Method(v)
		case "paymentGateway":
			req.Gateway, err = decodeString(d, key)
		case "currency":
			v, err = decodeString(d, key)
			req.Currency = payment.Currency(v)
		case "transactionId":
			req.TransactionID, err = decodeString(d, key)
		case "cardLast4":
			req.CardLast4, err = decodeString(d, key)
		case "cardBrand":
			req.CardBrand, err = decodeString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.payments.Create(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p) })
}

// GetPayment returns a payment owned by the caller, or any payment for admins.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

// ListPayments lists payments across users. Admin only.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	fe := fault.FieldErrors{}
	q := payment.Query{
		Status:  payment.Status(values.Get("status")),
		Gateway: values.Get("gateway"),
		Method:  payment.Method(values.Get("method")),
		UserID:  values.Get("userId"),
		From:    queryTime(r, "from", fe),
		To:      queryTime(r, "to", fe),
	}
	q.Limit, q.Offset = pageParams(r, fe)
	if err := fe.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	payments, err := h.payments.List(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { list(e, payments, encodePayment) })
}

// UpdatePaymentStatus applies an administrative status change.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req payment.UpdateStatusRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "status":
			v, err = decodeString(d, key)
			req.Status = payment.Status(v)
		case "failureReason":
			req.FailureReason, err = decodeString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.payments.UpdateStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

// RefundPayment refunds part or all of a completed payment.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var in payment.RefundInput
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			in.Amount, err = decodeDecimal(d, key)
		case "reason":
			in.Reason, err = decodeString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.payments.Refund(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}
