package payment

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxReasonLen     = 500
)

// UnitOfWork runs fn in a transaction carried by the context passed to fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps wires the payment service.
type Deps struct {
	UnitOfWork UnitOfWork
	Payments   Repository
	Orders     order.Repository
	Gateways   Gateways
	Events     event.Publisher
	Clock      func() time.Time
	NewID      func() string
	// NewReference generates transaction and refund references.
	NewReference func() string
	Tracer       trace.Tracer
	Meter        metric.Meter
}

// CreateRequest holds the input for paying an order.
type CreateRequest struct {
	OrderID       string
	Method        Method
	Gateway       string
	Currency      Currency
	TransactionID string
	CardLast4     string
	CardBrand     string
}

func (r *CreateRequest) normalize() error {
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.Gateway = strings.ToLower(strings.TrimSpace(r.Gateway))
	if r.Gateway == "" {
		r.Gateway = GatewayMock
	}
	r.Currency = Currency(strings.ToUpper(strings.TrimSpace(string(r.Currency))))
	if r.Currency == "" {
		r.Currency = CurrencyUSD
	}

	fe := fault.FieldErrors{}
	if r.OrderID == "" {
		fe.Add("orderId", "required")
	}
	if !r.Method.Valid() {
		fe.Add("paymentMethod", "unsupported payment method")
	}
	if !r.Currency.Valid() {
		fe.Add("currency", "unsupported currency")
	}
	if r.CardLast4 != "" && (len(r.CardLast4) != 4 || strings.IndexFunc(r.CardLast4, notDigit) >= 0) {
		fe.Add("cardLast4", "must be 4 digits")
	}
	return fe.Err()
}

func notDigit(r rune) bool { return !unicode.IsDigit(r) }

// UpdateStatusRequest is an administrative or gateway status change.
type UpdateStatusRequest struct {
	Status        Status
	FailureReason string
}

// RefundInput is a refund request against a payment.
type RefundInput struct {
	Amount decimal.Decimal
	Reason string
}

func (r RefundInput) validate() error {
	fe := fault.FieldErrors{}
	switch {
	case !r.Amount.IsPositive():
		fe.Add("amount", "must be greater than 0")
	case !r.Amount.Equal(r.Amount.Round(2)):
		fe.Add("amount", "must have at most 2 decimal places")
	}
	if len(r.Reason) > maxReasonLen {
		fe.Add("reason", "too long")
	}
	return fe.Err()
}

// Service implements the payment processor.
type Service struct {
	uow      UnitOfWork
	payments Repository
	orders   order.Repository
	gateways Gateways
	events   event.Publisher
	now      func() time.Time
	newID    func() string
	newRef   func() string
	tracer   trace.Tracer

	created  metric.Int64Counter
	refunded metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(deps Deps) (*Service, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("payment service: unit of work is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateways are required")
	}

	s := &Service{
		uow:      deps.UnitOfWork,
		payments: deps.Payments,
		orders:   deps.Orders,
		gateways: deps.Gateways,
		events:   deps.Events,
		now:      deps.Clock,
		newID:    deps.NewID,
		newRef:   deps.NewReference,
		tracer:   deps.Tracer,
	}
	if s.events == nil {
		s.events = event.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.newRef == nil {
		s.newRef = func() string { return ulid.Make().String() }
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("payment")
	}
	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("payment")
	}

	var err error
	if s.created, err = meter.Int64Counter("payments.created",
		metric.WithDescription("Payments created, by gateway and status"),
	); err != nil {
		return nil, errors.Wrap(err, "payments.created counter")
	}
	if s.refunded, err = meter.Int64Counter("payments.refunded",
		metric.WithDescription("Refunds applied"),
	); err != nil {
		return nil, errors.Wrap(err, "payments.refunded counter")
	}
	return s, nil
}

// Create charges the order through the requested gateway and records the
// payment. An order has at most one payment; a second attempt fails with
// ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (_ *Payment, rerr error) {
	ctx, span := s.tracer.Start(ctx, "payment.Create")
	defer span.End()
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
	}()

	if p.ID == "" {
		return nil, ErrAccessDenied
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	gw, err := s.gateways.Resolve(req.Gateway)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var pay *Payment
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !p.CanAccess(o.UserID) {
			return order.ErrAccessDenied
		}
		if o.Status == order.StatusCancelled {
			return ErrOrderNotPayable
		}
		if !o.TotalAmount.IsPositive() {
			return ErrNothingToPay
		}
		switch _, err := s.payments.GetByOrderID(ctx, o.ID); {
		case err == nil:
			return ErrAlreadyExists
		case !errors.Is(err, ErrNotFound):
			return errors.Wrap(err, "get payment by order")
		}

		pay = &Payment{
			ID:             s.newID(),
			OrderID:        o.ID,
			UserID:         o.UserID,
			Amount:         o.TotalAmount,
			Subtotal:       o.Subtotal,
			DiscountAmount: o.DiscountAmount,
			Currency:       req.Currency,
			Method:         req.Method,
			Gateway:        gw.Name(),
			TransactionID:  req.TransactionID,
			CardLast4:      req.CardLast4,
			CardBrand:      req.CardBrand,
			Status:         StatusPending,
			RefundedAmount: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if pay.TransactionID == "" {
			pay.TransactionID = "TXN-" + s.newRef()
		}

		res, err := gw.Charge(ctx, ChargeRequest{
			PaymentID: pay.ID,
			OrderID:   pay.OrderID,
			Amount:    pay.Amount,
			Currency:  pay.Currency,
			Method:    pay.Method,
		})
		if err != nil {
			return errors.Wrapf(err, "charge via %s", gw.Name())
		}
		pay.GatewayTransactionID = res.Reference
		if res.Status != "" && res.Status != StatusPending {
			if err := pay.transition(res.Status, res.FailureReason, now); err != nil {
				return errors.Wrapf(err, "gateway %s answered", gw.Name())
			}
		}

		if err := s.payments.Create(ctx, pay); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return ErrAlreadyExists
			}
			return errors.Wrap(err, "insert payment")
		}
		return s.mirror(ctx, o, pay, now)
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", pay.Gateway),
		attribute.String("status", string(pay.Status)),
	))
	zctx.From(ctx).Info("Payment created",
		zap.String("payment_id", pay.ID),
		zap.String("order_id", pay.OrderID),
		zap.String("gateway", pay.Gateway),
		zap.String("status", string(pay.Status)),
	)
	s.publish(ctx, event.Event{
		Type:        event.PaymentCreated,
		AggregateID: pay.ID,
		OccurredAt:  now,
		Data: map[string]string{
			"orderId": pay.OrderID,
			"amount":  pay.Amount.StringFixed(2),
			"gateway": pay.Gateway,
			"status":  string(pay.Status),
		},
	})
	return pay, nil
}

// Get returns the payment if p owns it or is an administrator.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*Payment, error) {
	pay, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get payment")
	}
	if !p.CanAccess(pay.UserID) {
		return nil, ErrAccessDenied
	}
	return pay, nil
}

// List returns payments matching q. Administrators only.
func (s *Service) List(ctx context.Context, p auth.Principal, q Query) ([]Payment, error) {
	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	fe := fault.FieldErrors{}
	if q.Status != "" && !q.Status.Valid() {
		fe.Add("status", "unknown payment status")
	}
	if q.Method != "" && !q.Method.Valid() {
		fe.Add("method", "unsupported payment method")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		fe.Add("to", "must not be before from")
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	q.Limit = min(q.Limit, maxListLimit)
	q.Offset = max(q.Offset, 0)

	payments, err := s.payments.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	return payments, nil
}

// UpdateStatus applies an administrative or gateway status change. Refund
// states are only reachable through Refund.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, id string, req UpdateStatusRequest) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.UpdateStatus")
	defer span.End()

	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	if !req.Status.Valid() {
		return nil, fault.Invalid("status", "unknown payment status")
	}
	if len(req.FailureReason) > maxReasonLen {
		return nil, fault.Invalid("failureReason", "too long")
	}

	var (
		pay  *Payment
		from Status
		now  = s.now().UTC()
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, locked, err := s.lockPayment(ctx, id)
		if err != nil {
			return err
		}
		pay, from = locked, locked.Status
		if err := pay.transition(req.Status, req.FailureReason, now); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, pay); err != nil {
			return errors.Wrap(err, "update payment")
		}
		return s.mirror(ctx, o, pay, now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	zctx.From(ctx).Info("Payment status changed",
		zap.String("payment_id", pay.ID),
		zap.String("from", string(from)),
		zap.String("to", string(pay.Status)),
		zap.String("actor", p.ID),
	)
	s.publish(ctx, event.Event{
		Type:        event.PaymentStatusChanged,
		AggregateID: pay.ID,
		OccurredAt:  now,
		Data: map[string]string{
			"orderId": pay.OrderID,
			"from":    string(from),
			"to":      string(pay.Status),
		},
	})
	return pay, nil
}

// Refund returns part or all of a completed payment through its gateway.
// Refunds of one payment serialize on the payment row lock.
func (s *Service) Refund(ctx context.Context, p auth.Principal, id string, in RefundInput) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Refund")
	defer span.End()

	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		pay    *Payment
		now    = s.now().UTC()
		issued string // gateway refund reference, set once money has moved
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, locked, err := s.lockPayment(ctx, id)
		if err != nil {
			return err
		}
		pay = locked

		// Check before calling the gateway so a rejected refund has no side effects.
		if err := pay.clone().applyRefund(Refund{Amount: in.Amount, RefundedAt: now}); err != nil {
			return err
		}
		gw, err := s.gateways.Resolve(pay.Gateway)
		if err != nil {
			return errors.Wrapf(err, "resolve gateway %q", pay.Gateway)
		}
		ref, err := gw.Refund(ctx, RefundRequest{
			PaymentID: pay.ID,
			Reference: pay.GatewayTransactionID,
			Amount:    in.Amount,
			Currency:  pay.Currency,
			Reason:    in.Reason,
		})
		if err != nil {
			return errors.Wrapf(err, "refund via %s", gw.Name())
		}
		if ref == "" {
			ref = "RFD-" + s.newRef()
		}
		issued = ref
		if err := pay.applyRefund(Refund{
			Amount:        in.Amount,
			Reason:        in.Reason,
			RefundedAt:    now,
			TransactionID: ref,
		}); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, pay); err != nil {
			return errors.Wrap(err, "update payment")
		}
		return s.mirror(ctx, o, pay, now)
	})
	if err != nil {
		span.RecordError(err)
		if issued != "" {
			// The gateway returned the money but the payment row still
			// shows it as held. Needs manual reconciliation.
			zctx.From(ctx).Error("Refund issued by gateway but not recorded",
				zap.String("payment_id", id),
				zap.String("gateway", pay.Gateway),
				zap.String("refund_reference", issued),
				zap.Stringer("amount", in.Amount),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.refunded.Add(ctx, 1, metric.WithAttributes(attribute.String("gateway", pay.Gateway)))
	zctx.From(ctx).Info("Payment refunded",
		zap.String("payment_id", pay.ID),
		zap.Stringer("amount", in.Amount),
		zap.Stringer("refunded_total", pay.RefundedAmount),
		zap.String("status", string(pay.Status)),
	)
	s.publish(ctx, event.Event{
		Type:        event.PaymentRefunded,
		AggregateID: pay.ID,
		OccurredAt:  now,
		Data: map[string]string{
			"orderId":        pay.OrderID,
			"amount":         in.Amount.StringFixed(2),
			"refundedAmount": pay.RefundedAmount.StringFixed(2),
			"status":         string(pay.Status),
		},
	})
	return pay, nil
}

// Unsettled returns asynchronous payments still waiting on their gateway,
// except those listed in skip.
func (s *Service) Unsettled(ctx context.Context, olderThan time.Duration, skip []string, limit int) ([]Payment, error) {
	payments, err := s.payments.ListUnsettled(ctx, GatewayMock, s.now().UTC().Add(-olderThan), skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list unsettled payments")
	}
	return payments, nil
}

// Sync asks the payment's gateway for its current status and applies it
// through UpdateStatus as the system principal. It reports whether the
// status changed.
func (s *Service) Sync(ctx context.Context, pay Payment) (bool, error) {
	gw, err := s.gateways.Resolve(pay.Gateway)
	if err != nil {
		return false, errors.Wrapf(err, "resolve gateway %q", pay.Gateway)
	}
	res, err := gw.Lookup(ctx, pay.GatewayTransactionID)
	if err != nil {
		return false, errors.Wrapf(err, "lookup %s", pay.GatewayTransactionID)
	}
	if res.Status == pay.Status {
		return false, nil
	}
	if _, err := s.UpdateStatus(ctx, auth.System, pay.ID, UpdateStatusRequest{
		Status:        res.Status,
		FailureReason: res.FailureReason,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) lockOrder(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.LockByID(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "lock order")
	}
	return o, nil
}

// lockPayment locks the owning order, then the payment, in the same order
// as Create.
func (s *Service) lockPayment(ctx context.Context, id string) (*order.Order, *Payment, error) {
	current, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, errors.Wrap(err, "get payment")
	}
	o, err := s.lockOrder(ctx, current.OrderID)
	if err != nil {
		return nil, nil, err
	}
	pay, err := s.payments.LockByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, errors.Wrap(err, "lock payment")
	}
	return o, pay, nil
}

// mirror copies the payment status onto its order.
func (s *Service) mirror(ctx context.Context, o *order.Order, pay *Payment, now time.Time) error {
	status := order.PaymentStatus(pay.Status)
	if o.PaymentStatus == status {
		return nil
	}
	o.PaymentStatus = status
	o.UpdatedAt = now
	if err := s.orders.Update(ctx, o); err != nil {
		return errors.Wrap(err, "mirror payment status")
	}
	return nil
}

func (p *Payment) clone() *Payment {
	c := *p
	c.Refunds = append([]Refund(nil), p.Refunds...)
	return &c
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish event",
			zap.String("type", string(e.Type)),
			zap.String("aggregate_id", e.AggregateID),
			zap.Error(err),
		)
	}
}
