// Package memtest is an in-process implementation of the repositories for
// service and handler tests. A transaction holds the store mutex for its
// whole duration and restores a snapshot of the state when it fails.
package memtest

import (
	"context"
	"sync"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

type state struct {
	products       map[string]product.Product
	coupons        map[string]coupon.Coupon
	orders         map[string]order.Order
	payments       map[string]payment.Payment
	paymentByOrder map[string]string
}

func newState() *state {
	return &state{
		products:       make(map[string]product.Product),
		coupons:        make(map[string]coupon.Coupon),
		orders:         make(map[string]order.Order),
		payments:       make(map[string]payment.Payment),
		paymentByOrder: make(map[string]string),
	}
}

// clone copies the maps. Stored values are already deep copies, so sharing
// their slices between snapshots is safe as long as writers replace values
// instead of mutating them.
func (s *state) clone() *state {
	c := &state{
		products:       make(map[string]product.Product, len(s.products)),
		coupons:        make(map[string]coupon.Coupon, len(s.coupons)),
		orders:         make(map[string]order.Order, len(s.orders)),
		payments:       make(map[string]payment.Payment, len(s.payments)),
		paymentByOrder: make(map[string]string, len(s.paymentByOrder)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.paymentByOrder {
		c.paymentByOrder[k] = v
	}
	return c
}

// Store holds all entities in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

type txKey struct{ store *Store }

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{store: s}).(bool)
	return v
}

// RunInTx runs fn with exclusive access to the store. Nested calls join the
// outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{store: s}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// read runs fn against the state, locking unless ctx already holds a
// transaction.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

// write is read for mutations. Outside a transaction a failed fn leaves the
// state untouched because every mutation validates before writing.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.read(ctx, fn)
}

// Products returns the product repository.
func (s *Store) Products() *Products { return &Products{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *Coupons { return &Coupons{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Payments returns the payment repository.
func (s *Store) Payments() *Payments { return &Payments{s: s} }

// Ping implements the readiness check.
func (s *Store) Ping(context.Context) error { return nil }
