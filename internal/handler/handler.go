// Package handler exposes the order engine over HTTP+JSON.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
	"github.com/NPatel10/jewellery-ecommerce/pkg/idempotency"
)

// Deps holds the domain dependencies of the Handler.
type Deps struct {
	Products product.Repository
	Orders   *order.Service
	Payments *payment.Service
	Coupons  *coupon.Manager
	// Validator evaluates coupons for POST /coupons/validate.
	Validator coupon.Validator
	Auth      *Authenticator

	// Idempotency stores replayable responses of mutating POSTs. Nil
	// disables Idempotency-Key handling.
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
}

// Handler serves the public API.
type Handler struct {
	products  product.Repository
	orders    *order.Service
	payments  *payment.Service
	coupons   *coupon.Manager
	validator coupon.Validator
	auth      *Authenticator

	idempotency    idempotency.Store
	idempotencyTTL time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("handler: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("handler: order service is required")
	case deps.Payments == nil:
		return nil, errors.New("handler: payment service is required")
	case deps.Coupons == nil:
		return nil, errors.New("handler: coupon manager is required")
	case deps.Validator == nil:
		return nil, errors.New("handler: coupon validator is required")
	case deps.Auth == nil:
		return nil, errors.New("handler: authenticator is required")
	}
	return &Handler{
		products:       deps.Products,
		orders:         deps.Orders,
		payments:       deps.Payments,
		coupons:        deps.Coupons,
		validator:      deps.Validator,
		auth:           deps.Auth,
		idempotency:    deps.Idempotency,
		idempotencyTTL: deps.IdempotencyTTL,
	}, nil
}

// Register mounts the authenticated API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Use(idempotency.Middleware(h.idempotency,
			idempotency.WithTTL(h.idempotencyTTL),
			idempotency.WithMethods(http.MethodPost),
			idempotency.WithRequester(requester),
		))

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListMyOrders)
			r.Get("/all", h.ListAllOrders)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}/status", h.SetOrderStatus)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/validate", h.ValidateCoupon)
			r.Group(func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/", h.ListCoupons)
				r.Post("/", h.CreateCoupon)
				r.Get("/{code}", h.GetCoupon)
				r.Put("/{code}", h.UpdateCoupon)
				r.Delete("/{code}", h.DeactivateCoupon)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/", h.ListPayments)
			r.Get("/{id}", h.GetPayment)
			r.Put("/{id}/status", h.UpdatePaymentStatus)
			r.Post("/{id}/refund", h.RefundPayment)
		})
	})
}

// Routes returns a router serving only the API routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func requester(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.ID
	}
	return "anonymous"
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principal(r).IsAdmin() {
			writeError(w, r, errAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}
