package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// UnitOfWork runs fn in a transaction carried by the context passed to fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inventory reserves and releases product stock.
type Inventory interface {
	Reserve(ctx context.Context, lines []inventory.Line) (map[string]product.Product, error)
	Release(ctx context.Context, lines []inventory.Line) error
}

// Deps wires the order service.
type Deps struct {
	UnitOfWork UnitOfWork
	Orders     Repository
	Inventory  Inventory
	Coupons    coupon.Validator
	Events     event.Publisher
	Clock      func() time.Time
	NewID      func() string
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	Items           []inventory.Line
	ShippingAddress Address
	CouponCode      string
	PaymentMethod   string
}

func (r CreateRequest) validate() ([]inventory.Line, error) {
	fe := fault.FieldErrors{}
	lines, err := inventory.Normalize(r.Items)
	if err != nil {
		for field, msg := range fault.FieldsOf(err) {
			fe.Add(field, msg)
		}
	}
	r.ShippingAddress.Validate(fe)
	if err := fe.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Service implements the order ledger.
type Service struct {
	uow       UnitOfWork
	orders    Repository
	inventory Inventory
	coupons   coupon.Validator
	events    event.Publisher
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer

	created  metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps) (*Service, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon validator is required")
	}

	s := &Service{
		uow:       deps.UnitOfWork,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		events:    deps.Events,
		now:       deps.Clock,
		newID:     deps.NewID,
		tracer:    deps.Tracer,
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
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("order")
	}
	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("order")
	}

	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order placements rejected, by error code"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}
	return s, nil
}

// Create places an order for p. Stock reservation, coupon redemption and the
// order insert commit together or not at all.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", fault.CodeOf(rerr))))
		}
	}()

	if p.ID == "" {
		return nil, ErrAccessDenied
	}
	lines, err := req.validate()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              s.newID(),
		UserID:          p.ID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		products, err := s.inventory.Reserve(ctx, lines)
		if err != nil {
			return err
		}

		items := make([]LineItem, len(lines))
		subtotal := decimal.Zero
		for i, l := range lines {
			prod := products[l.ProductID]
			items[i] = LineItem{
				ProductID: prod.ID,
				Name:      prod.Name,
				Category:  prod.Category,
				Quantity:  l.Quantity,
				UnitPrice: prod.Price,
			}
			subtotal = subtotal.Add(items[i].Total())
		}
		o.Items = items
		o.Subtotal = subtotal.Round(2)
		o.DiscountAmount = decimal.Zero
		o.TotalAmount = o.Subtotal

		if code := coupon.NormalizeCode(req.CouponCode); code != "" {
			res, err := s.coupons.Redeem(ctx, coupon.Request{
				Code:        code,
				OrderAmount: o.Subtotal,
				Categories:  o.Categories(),
			})
			if err != nil {
				return err
			}
			o.CouponCode = res.Code
			o.DiscountAmount = res.DiscountAmount
			o.TotalAmount = res.FinalAmount
		}

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Stringer("total", o.TotalAmount),
		zap.String("coupon", o.CouponCode),
	)
	s.publish(ctx, event.Event{
		Type:        event.OrderCreated,
		AggregateID: o.ID,
		OccurredAt:  now,
		Data: map[string]string{
			"userId":      o.UserID,
			"totalAmount": o.TotalAmount.StringFixed(2),
			"couponCode":  o.CouponCode,
		},
	})
	return o, nil
}

// Get returns the order if p owns it or is an administrator.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !p.CanAccess(o.UserID) {
		return nil, ErrAccessDenied
	}
	return o, nil
}

// ListMine returns the caller's orders, newest first.
func (s *Service) ListMine(ctx context.Context, p auth.Principal, q Query) ([]Order, error) {
	if p.ID == "" {
		return nil, ErrAccessDenied
	}
	q.UserID = p.ID
	return s.list(ctx, q)
}

// ListAll returns orders across users. Administrators only.
func (s *Service) ListAll(ctx context.Context, p auth.Principal, q Query) ([]Order, error) {
	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	return s.list(ctx, q)
}

func (s *Service) list(ctx context.Context, q Query) ([]Order, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fault.Invalid("status", "unknown order status")
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	q.Limit = min(q.Limit, maxListLimit)
	q.Offset = max(q.Offset, 0)

	orders, err := s.orders.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// SetStatus moves the order along the fulfilment state machine. Cancelling an
// order returns its items to stock.
func (s *Service) SetStatus(ctx context.Context, p auth.Principal, id string, target Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.SetStatus")
	defer span.End()

	if !p.IsAdmin() {
		return nil, ErrAccessDenied
	}
	if !target.Valid() {
		return nil, fault.Invalid("status", "unknown order status")
	}

	var (
		o    *Order
		from Status
		now  = s.now().UTC()
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.LockByID(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return errors.Wrap(err, "lock order")
		}
		from = o.Status
		if err := o.transition(target, now); err != nil {
			return err
		}
		if target == StatusCancelled {
			if err := s.inventory.Release(ctx, o.lines()); err != nil {
				return errors.Wrap(err, "release stock")
			}
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.publish(ctx, event.Event{
		Type:        event.OrderStatusChanged,
		AggregateID: o.ID,
		OccurredAt:  now,
		Data: map[string]string{
			"from": string(from),
			"to":   string(target),
		},
	})
	return o, nil
}

func (o *Order) lines() []inventory.Line {
	lines := make([]inventory.Line, len(o.Items))
	for i, li := range o.Items {
		lines[i] = inventory.Line{ProductID: li.ProductID, Quantity: li.Quantity}
	}
	return lines
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
