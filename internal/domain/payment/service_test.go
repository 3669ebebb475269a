package payment_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/auth"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/event/eventtest"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
	"github.com/NPatel10/jewellery-ecommerce/internal/gateway"
	"github.com/NPatel10/jewellery-ecommerce/internal/repository/memtest"
)

var (
	alice = auth.Principal{ID: "alice", Role: auth.RoleCustomer}
	bob   = auth.Principal{ID: "bob", Role: auth.RoleCustomer}
	admin = auth.Principal{ID: "root", Role: auth.RoleAdmin}
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixture struct {
	store    *memtest.Store
	orders   *order.Service
	payments *payment.Service
	events   *eventtest.Recorder

	mu    sync.Mutex
	clock time.Time
}

func (f *fixture) tick() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func newFixture(t *testing.T, gateways ...payment.Gateway) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memtest.NewStore(),
		events: &eventtest.Recorder{},
		clock:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Products().Upsert(ctx, &product.Product{
		ID:       "ring",
		Name:     "Solitaire ring",
		Price:    d("300"),
		Category: product.CategoryRings,
		Stock:    100,
		Active:   true,
	}))

	var err error
	f.orders, err = order.NewService(order.Deps{
		UnitOfWork: f.store,
		Orders:     f.store.Orders(),
		Inventory:  inventory.NewReserver(f.store.Products()),
		Coupons:    coupon.NewRepoValidator(f.store.Coupons()),
	})
	require.NoError(t, err)

	mgr, err := gateway.NewManager(append([]payment.Gateway{gateway.Instant{}}, gateways...))
	require.NoError(t, err)
	f.payments, err = payment.NewService(payment.Deps{
		UnitOfWork: f.store,
		Payments:   f.store.Payments(),
		Orders:     f.store.Orders(),
		Gateways:   mgr,
		Events:     f.events,
		Clock:      f.tick,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) placeOrder(t *testing.T, p auth.Principal) *order.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), p, order.CreateRequest{
		Items: []inventory.Line{{ProductID: "ring", Quantity: 1}},
		ShippingAddress: order.Address{
			FullName: "Alice", Street: "1 Main St", City: "Springfield",
			State: "IL", PostalCode: "62701", Country: "US", Phone: "555",
		},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) order(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := f.store.Orders().GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) pay(t *testing.T, orderID, gw string) *payment.Payment {
	t.Helper()
	pay, err := f.payments.Create(context.Background(), alice, payment.CreateRequest{
		OrderID: orderID,
		Method:  payment.MethodCreditCard,
		Gateway: gw,
	})
	require.NoError(t, err)
	return pay
}

func TestCreate_MockGatewayCompletes(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)

	pay, err := f.payments.Create(context.Background(), alice, payment.CreateRequest{
		OrderID:   o.ID,
		Method:    payment.MethodCreditCard,
		Currency:  "usd",
		CardLast4: "4242",
		CardBrand: "visa",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCompleted, pay.Status)
	assert.Equal(t, payment.GatewayMock, pay.Gateway)
	assert.Equal(t, payment.CurrencyUSD, pay.Currency)
	assert.True(t, o.TotalAmount.Equal(pay.Amount))
	assert.NotNil(t, pay.PaidAt)
	assert.NotEmpty(t, pay.TransactionID)
	assert.NotEmpty(t, pay.GatewayTransactionID)
	assert.Equal(t, order.PaymentStatus("completed"), f.order(t, o.ID).PaymentStatus)
	assert.Equal(t, []event.Type{event.PaymentCreated}, f.events.Types())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)

	tests := []struct {
		name      string
		req       payment.CreateRequest
		wantField string
	}{
		{name: "missing order", req: payment.CreateRequest{Method: payment.MethodCreditCard}, wantField: "orderId"},
		{name: "bad method", req: payment.CreateRequest{OrderID: o.ID, Method: "barter"}, wantField: "paymentMethod"},
		{name: "bad currency", req: payment.CreateRequest{OrderID: o.ID, Method: payment.MethodPayPal, Currency: "JPY"}, wantField: "currency"},
		{name: "bad card", req: payment.CreateRequest{OrderID: o.ID, Method: payment.MethodDebitCard, CardLast4: "42a2"}, wantField: "cardLast4"},
		{name: "unknown gateway", req: payment.CreateRequest{OrderID: o.ID, Method: payment.MethodStripe, Gateway: "square"}, wantField: "paymentGateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payments.Create(context.Background(), alice, tt.req)
			require.Error(t, err)
			assert.Equal(t, fault.Validation, fault.KindOf(err))
			assert.Contains(t, fault.FieldsOf(err), tt.wantField)
		})
	}
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)
	f.pay(t, o.ID, "")

	_, err := f.payments.Create(context.Background(), alice, payment.CreateRequest{
		OrderID: o.ID,
		Method:  payment.MethodCreditCard,
	})
	require.ErrorIs(t, err, payment.ErrAlreadyExists)
	assert.Equal(t, fault.Conflict, fault.KindOf(err))
	assert.Equal(t, "PaymentAlreadyExists", fault.CodeOf(err))
}

func TestCreate_ConcurrentPaymentsForOneOrder(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)

	var succeeded, conflicts atomic.Int32
	var g errgroup.Group
	for range 2 {
		g.Go(func() error {
			_, err := f.payments.Create(context.Background(), alice, payment.CreateRequest{
				OrderID: o.ID,
				Method:  payment.MethodCreditCard,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case fault.KindOf(err) == fault.Conflict:
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, 1, conflicts.Load())

	all, err := f.payments.List(context.Background(), admin, payment.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_OrderChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice)

	_, err := f.payments.Create(ctx, bob, payment.CreateRequest{OrderID: o.ID, Method: payment.MethodCreditCard})
	assert.Equal(t, fault.AccessDenied, fault.KindOf(err))

	_, err = f.payments.Create(ctx, alice, payment.CreateRequest{OrderID: "missing", Method: payment.MethodCreditCard})
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = f.orders.SetStatus(ctx, admin, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	_, err = f.payments.Create(ctx, alice, payment.CreateRequest{OrderID: o.ID, Method: payment.MethodCreditCard})
	require.ErrorIs(t, err, payment.ErrOrderNotPayable)
}

func TestCreate_FullyDiscountedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	require.NoError(t, f.store.Coupons().Create(ctx, &coupon.Coupon{
		Code:       "FREE",
		Type:       coupon.DiscountFixed,
		Value:      d("500"),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		Active:     true,
	}))
	o, err := f.orders.Create(ctx, alice, order.CreateRequest{
		Items:      []inventory.Line{{ProductID: "ring", Quantity: 1}},
		CouponCode: "FREE",
		ShippingAddress: order.Address{
			FullName: "Alice", Street: "1 Main St", City: "Springfield",
			State: "IL", PostalCode: "62701", Country: "US", Phone: "555",
		},
	})
	require.NoError(t, err)
	require.True(t, o.TotalAmount.IsZero())

	_, err = f.payments.Create(ctx, alice, payment.CreateRequest{OrderID: o.ID, Method: payment.MethodCreditCard})
	require.ErrorIs(t, err, payment.ErrNothingToPay)
	assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))

	_, err = f.store.Payments().GetByOrderID(ctx, o.ID)
	require.ErrorIs(t, err, payment.ErrNotFound)
	assert.Equal(t, order.PaymentPending, f.order(t, o.ID).PaymentStatus)
	assert.Empty(t, f.events.Events())
}

func TestUpdateStatus_AsyncGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewDeferred("stripe", time.Hour))
	o := f.placeOrder(t, alice)

	pay := f.pay(t, o.ID, "stripe")
	assert.Equal(t, payment.StatusPending, pay.Status)
	assert.Equal(t, order.PaymentStatus("pending"), f.order(t, o.ID).PaymentStatus)

	_, err := f.payments.UpdateStatus(ctx, alice, pay.ID, payment.UpdateStatusRequest{Status: payment.StatusCompleted})
	require.ErrorIs(t, err, payment.ErrAccessDenied)

	pay, err = f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: payment.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, order.PaymentStatus("processing"), f.order(t, o.ID).PaymentStatus)

	_, err = f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: payment.StatusCancelled})
	var transErr *payment.InvalidStatusTransitionError
	require.ErrorAs(t, err, &transErr)

	pay, err = f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: payment.StatusCompleted})
	require.NoError(t, err)
	assert.NotNil(t, pay.PaidAt)
	assert.Equal(t, order.PaymentStatus("completed"), f.order(t, o.ID).PaymentStatus)
}

func TestUpdateStatus_Failure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewDeferred("paypal", time.Hour))
	o := f.placeOrder(t, alice)
	pay := f.pay(t, o.ID, "paypal")

	pay, err := f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{
		Status:        payment.StatusFailed,
		FailureReason: "card declined",
	})
	require.NoError(t, err)
	assert.Equal(t, "card declined", pay.FailureReason)
	assert.NotNil(t, pay.FailedAt)
	assert.Equal(t, order.PaymentStatus("failed"), f.order(t, o.ID).PaymentStatus)

	_, err = f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: payment.StatusCompleted})
	assert.Equal(t, "InvalidStatusTransition", fault.CodeOf(err))
}

func TestUpdateStatus_CannotEnterRefundStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.pay(t, f.placeOrder(t, alice).ID, "")

	for _, target := range []payment.Status{payment.StatusRefunded, payment.StatusPartiallyRefunded} {
		_, err := f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: target})
		var transErr *payment.InvalidStatusTransitionError
		require.ErrorAs(t, err, &transErr)
	}

	_, err := f.payments.UpdateStatus(ctx, admin, pay.ID, payment.UpdateStatusRequest{Status: "lost"})
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = f.payments.UpdateStatus(ctx, admin, "missing", payment.UpdateStatusRequest{Status: payment.StatusFailed})
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestRefund_ThreeHundredScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice)
	pay := f.pay(t, o.ID, "")
	require.True(t, d("300").Equal(pay.Amount))

	pay, err := f.payments.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("100"), Reason: "scratched"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPartiallyRefunded, pay.Status)
	assert.True(t, d("100").Equal(pay.RefundedAmount))

	_, err = f.payments.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("250")})
	var exceeds *payment.RefundExceedsPaymentError
	require.ErrorAs(t, err, &exceeds)
	assert.True(t, d("200").Equal(exceeds.Available))
	assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))

	pay, err = f.payments.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("200"), Reason: "returned"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, pay.Status)
	assert.True(t, d("300").Equal(pay.RefundedAmount))
	require.Len(t, pay.Refunds, 2)
	assert.NotEmpty(t, pay.Refunds[1].TransactionID)
	assert.NotNil(t, pay.RefundedAt)
	assert.Equal(t, order.PaymentStatus("refunded"), f.order(t, o.ID).PaymentStatus)

	_, err = f.payments.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("1")})
	require.ErrorIs(t, err, payment.ErrNotRefundable)
}

func TestRefund_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewDeferred("stripe", time.Hour))
	pending := f.pay(t, f.placeOrder(t, alice).ID, "stripe")

	_, err := f.payments.Refund(ctx, admin, pending.ID, payment.RefundInput{Amount: d("10")})
	require.ErrorIs(t, err, payment.ErrNotRefundable)

	_, err = f.payments.Refund(ctx, alice, pending.ID, payment.RefundInput{Amount: d("10")})
	require.ErrorIs(t, err, payment.ErrAccessDenied)

	for _, amount := range []string{"0", "-5", "1.005"} {
		_, err = f.payments.Refund(ctx, admin, pending.ID, payment.RefundInput{Amount: d(amount)})
		assert.Equal(t, fault.Validation, fault.KindOf(err), amount)
	}
}

type failingUpdates struct {
	payment.Repository
	err error
}

func (r failingUpdates) Update(context.Context, *payment.Payment) error { return r.err }

func TestRefund_UnrecordedGatewayRefundIsLogged(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)
	pay := f.pay(t, o.ID, "")

	mgr, err := gateway.NewManager([]payment.Gateway{gateway.Instant{}})
	require.NoError(t, err)
	svc, err := payment.NewService(payment.Deps{
		UnitOfWork: f.store,
		Payments:   failingUpdates{Repository: f.store.Payments(), err: errors.New("connection reset")},
		Orders:     f.store.Orders(),
		Gateways:   mgr,
		Clock:      f.tick,
	})
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	_, err = svc.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("100")})
	require.Error(t, err)

	entries := logs.FilterMessage("Refund issued by gateway but not recorded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, pay.ID, fields["payment_id"])
	assert.NotEmpty(t, fields["refund_reference"])
	assert.Equal(t, "100", fields["amount"])

	stored, err := f.store.Payments().GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.IsZero())
}

func TestRefund_RejectedRefundIsNotLogged(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice)
	pay := f.pay(t, o.ID, "")

	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	_, err := f.payments.Refund(ctx, admin, pay.ID, payment.RefundInput{Amount: d("301")})
	require.Error(t, err)
	assert.Zero(t, logs.FilterMessage("Refund issued by gateway but not recorded").Len())
}

func TestRefund_ConcurrentRefundsNeverExceedAmount(t *testing.T) {
	f := newFixture(t)
	pay := f.pay(t, f.placeOrder(t, alice).ID, "")

	var ok atomic.Int32
	var g errgroup.Group
	for range 6 {
		g.Go(func() error {
			_, err := f.payments.Refund(context.Background(), admin, pay.ID, payment.RefundInput{Amount: d("100")})
			switch {
			case err == nil:
				ok.Add(1)
			case fault.CodeOf(err) == "RefundExceedsPayment", fault.CodeOf(err) == "PaymentNotRefundable":
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 3, ok.Load())

	got, err := f.payments.Get(context.Background(), admin, pay.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, r := range got.Refunds {
		sum = sum.Add(r.Amount)
	}
	assert.True(t, sum.Equal(got.RefundedAmount))
	assert.True(t, sum.Equal(got.Amount))
	assert.Equal(t, payment.StatusRefunded, got.Status)
}

func TestSync_AdvancesAsyncPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewDeferred("stripe", 0), gateway.NewDeferred("paypal", time.Hour))
	settled := f.pay(t, f.placeOrder(t, alice).ID, "stripe")
	slow := f.pay(t, f.placeOrder(t, alice).ID, "paypal")
	f.pay(t, f.placeOrder(t, alice).ID, "")

	unsettled, err := f.payments.Unsettled(ctx, 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 2)
	assert.Equal(t, settled.ID, unsettled[0].ID)

	changed, err := f.payments.Sync(ctx, unsettled[0])
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.payments.Sync(ctx, unsettled[1])
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := f.payments.Get(ctx, alice, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	assert.Equal(t, order.PaymentStatus("completed"), f.order(t, settled.OrderID).PaymentStatus)

	got, err = f.payments.Get(ctx, alice, slow.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, got.Status)

	unsettled, err = f.payments.Unsettled(ctx, 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	changed, err = f.payments.Sync(ctx, unsettled[0])
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGetAndList_AccessControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewDeferred("stripe", time.Hour))
	a := f.pay(t, f.placeOrder(t, alice).ID, "")
	f.pay(t, f.placeOrder(t, alice).ID, "stripe")

	_, err := f.payments.Get(ctx, bob, a.ID)
	require.ErrorIs(t, err, payment.ErrAccessDenied)

	_, err = f.payments.List(ctx, alice, payment.Query{})
	require.ErrorIs(t, err, payment.ErrAccessDenied)

	got, err := f.payments.List(ctx, admin, payment.Query{Gateway: "stripe"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, payment.StatusPending, got[0].Status)

	from := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, err = f.payments.List(ctx, admin, payment.Query{From: &from, To: &to})
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestCanTransition(t *testing.T) {
	allowed := map[payment.Status][]payment.Status{
		payment.StatusPending:           {payment.StatusProcessing, payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled},
		payment.StatusProcessing:        {payment.StatusCompleted, payment.StatusFailed},
		payment.StatusCompleted:         {payment.StatusRefunded, payment.StatusPartiallyRefunded},
		payment.StatusPartiallyRefunded: {payment.StatusPartiallyRefunded, payment.StatusRefunded},
	}
	all := []payment.Status{
		payment.StatusPending, payment.StatusProcessing, payment.StatusCompleted, payment.StatusFailed,
		payment.StatusCancelled, payment.StatusRefunded, payment.StatusPartiallyRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, payment.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
