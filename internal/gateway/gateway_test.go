package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

func TestManager_Resolve(t *testing.T) {
	mgr, err := NewManager([]payment.Gateway{
		Instant{},
		NewDeferred("stripe", time.Minute),
		NewDeferred("PayPal", time.Minute),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty selects mock", input: "", want: "mock"},
		{name: "exact", input: "stripe", want: "stripe"},
		{name: "case insensitive", input: " PAYPAL ", want: "paypal"},
		{name: "unknown", input: "razorpay", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := mgr.Resolve(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, payment.ErrUnsupportedGateway)
				assert.Equal(t, fault.Validation, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Name())
		})
	}
	assert.ElementsMatch(t, []string{"mock", "stripe", "paypal"}, mgr.Names())
}

func TestNewManager_Errors(t *testing.T) {
	_, err := NewManager(nil)
	require.Error(t, err)

	_, err = NewManager([]payment.Gateway{Instant{}, Instant{}})
	require.Error(t, err)

	_, err = NewManager([]payment.Gateway{NewDeferred("stripe", 0)}, WithDefault("paypal"))
	require.Error(t, err)

	mgr, err := NewManager([]payment.Gateway{NewDeferred("stripe", 0)}, WithDefault("stripe"))
	require.NoError(t, err)
	g, err := mgr.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
}

func TestInstant(t *testing.T) {
	ctx := context.Background()
	g := Instant{}

	res, err := g.Charge(ctx, payment.ChargeRequest{Amount: decimal.NewFromInt(300)})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Contains(t, res.Reference, "MOCK-")

	looked, err := g.Lookup(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, looked.Status)

	ref, err := g.Refund(ctx, payment.RefundRequest{Reference: res.Reference, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.NotEqual(t, res.Reference, ref)

	_, err = g.Refund(ctx, payment.RefundRequest{Reference: res.Reference, Amount: decimal.Zero})
	require.Error(t, err)
}

func TestDeferred_SettlesAfterDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	g := NewDeferred("razorpay", 5*time.Minute)
	g.now = func() time.Time { return now }

	res, err := g.Charge(ctx, payment.ChargeRequest{Amount: decimal.NewFromInt(300)})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, res.Status)
	assert.Contains(t, res.Reference, "RAZORPAY-")

	looked, err := g.Lookup(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, looked.Status)

	now = now.Add(5 * time.Minute)
	looked, err = g.Lookup(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, looked.Status)
}

func TestDeferred_RejectsForeignReferences(t *testing.T) {
	ctx := context.Background()
	g := NewDeferred("stripe", time.Minute)

	_, err := g.Lookup(ctx, "MOCK-01J0000000000000000000000")
	require.Error(t, err)

	_, err = g.Lookup(ctx, "STRIPE-not-a-ulid")
	require.Error(t, err)

	_, err = g.Refund(ctx, payment.RefundRequest{Reference: "PAYPAL-x", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
}
