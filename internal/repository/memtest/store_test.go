package memtest

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	require.NoError(t, s.Products().Upsert(context.Background(), &product.Product{
		ID:       id,
		Name:     "Ring " + id,
		Price:    decimal.NewFromInt(100),
		Category: product.CategoryRings,
		Stock:    stock,
		Active:   true,
	}))
}

// stockOf reads through ctx, which must be the transaction context when
// called inside RunInTx.
func stockOf(ctx context.Context, t *testing.T, s *Store, id string) int {
	t.Helper()
	p, err := s.Products().GetByID(ctx, id)
	require.NoError(t, err)
	return p.Stock
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedProduct(t, s, "p1", 5)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Products().AdjustStock(ctx, []inventory.Adjustment{{ProductID: "p1", Delta: -3}}))
		assert.Equal(t, 2, stockOf(ctx, t, s, "p1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, stockOf(context.Background(), t, s, "p1"))
}

func TestRunInTx_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedProduct(t, s, "p1", 5)

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Products().AdjustStock(ctx, []inventory.Adjustment{{ProductID: "p1", Delta: -1}})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 4, stockOf(context.Background(), t, s, "p1"))
}

func TestAdjustStock_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedProduct(t, s, "p1", 5)
	seedProduct(t, s, "p2", 1)

	err := s.Products().AdjustStock(ctx, []inventory.Adjustment{
		{ProductID: "p1", Delta: -2},
		{ProductID: "p2", Delta: -2},
	})
	var oos *inventory.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, "p2", oos.ProductID)
	assert.Equal(t, 5, stockOf(context.Background(), t, s, "p1"))
	assert.Equal(t, 1, stockOf(context.Background(), t, s, "p2"))
}

func TestCoupons_IncrementUsageRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	limit := 1
	require.NoError(t, s.Coupons().Create(ctx, &coupon.Coupon{Code: "ONCE", UsageLimit: &limit}))

	require.NoError(t, s.Coupons().IncrementUsage(ctx, "ONCE"))
	require.ErrorIs(t, s.Coupons().IncrementUsage(ctx, "ONCE"), coupon.ErrUsageLimitExceeded)
	require.ErrorIs(t, s.Coupons().Create(ctx, &coupon.Coupon{Code: "ONCE"}), coupon.ErrDuplicateCode)

	// Update never resets usage.
	require.NoError(t, s.Coupons().Update(ctx, &coupon.Coupon{Code: "ONCE", UsageLimit: &limit}))
	c, err := s.Coupons().FindByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
}

func TestCoupons_UsageLimitBelowUsage(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Coupons().Create(ctx, &coupon.Coupon{Code: "TWICE"}))
	require.NoError(t, s.Coupons().IncrementUsage(ctx, "TWICE"))
	require.NoError(t, s.Coupons().IncrementUsage(ctx, "TWICE"))

	limit := 1
	require.ErrorIs(t, s.Coupons().Update(ctx, &coupon.Coupon{Code: "TWICE", UsageLimit: &limit}), coupon.ErrUsageLimitBelowUsage)
	require.ErrorIs(t, s.Coupons().Upsert(ctx, &coupon.Coupon{Code: "TWICE", UsageLimit: &limit}), coupon.ErrUsageLimitBelowUsage)

	c, err := s.Coupons().FindByCode(ctx, "TWICE")
	require.NoError(t, err)
	assert.Nil(t, c.UsageLimit)
	assert.Equal(t, 2, c.UsedCount)
}

func TestPayments_OnePerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	require.NoError(t, s.Payments().Create(ctx, &payment.Payment{ID: "pay1", OrderID: "o1", CreatedAt: now}))
	err := s.Payments().Create(ctx, &payment.Payment{ID: "pay2", OrderID: "o1", CreatedAt: now})
	require.ErrorIs(t, err, payment.ErrAlreadyExists)

	got, err := s.Payments().GetByOrderID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "pay1", got.ID)
}

func TestPayments_ListUnsettled(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for _, p := range []payment.Payment{
		{ID: "a", OrderID: "o1", Gateway: "stripe", Status: payment.StatusPending, CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "b", OrderID: "o2", Gateway: "stripe", Status: payment.StatusProcessing, CreatedAt: base.Add(-3 * time.Hour)},
		{ID: "c", OrderID: "o3", Gateway: "mock", Status: payment.StatusPending, CreatedAt: base.Add(-time.Hour)},
		{ID: "d", OrderID: "o4", Gateway: "stripe", Status: payment.StatusCompleted, CreatedAt: base.Add(-time.Hour)},
		{ID: "e", OrderID: "o5", Gateway: "paypal", Status: payment.StatusPending, CreatedAt: base},
	} {
		require.NoError(t, s.Payments().Create(ctx, &p))
	}

	got, err := s.Payments().ListUnsettled(ctx, payment.GatewayMock, base.Add(-time.Minute), nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got, err = s.Payments().ListUnsettled(ctx, payment.GatewayMock, base.Add(-time.Minute), []string{"b"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
