package memtest

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
)

var _ order.Repository = (*Orders)(nil)

// Orders is the in-memory order repository.
type Orders struct {
	s *Store
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
		st.orders[o.ID] = cloneOrder(*o)
		return nil
	})
}

func (r *Orders) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.read(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		o = cloneOrder(o)
		out = &o
		return nil
	})
	return out, err
}

func (r *Orders) LockByID(ctx context.Context, id string) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

// Update stores status fields. Items and amounts never change after creation.
func (r *Orders) Update(ctx context.Context, o *order.Order) error {
	return r.s.write(ctx, func(st *state) error {
		existing, ok := st.orders[o.ID]
		if !ok {
			return order.ErrNotFound
		}
		existing.Status = o.Status
		existing.PaymentStatus = o.PaymentStatus
		existing.UpdatedAt = o.UpdatedAt
		existing.ShippedAt = o.ShippedAt
		existing.DeliveredAt = o.DeliveredAt
		existing.CancelledAt = o.CancelledAt
		st.orders[o.ID] = existing
		return nil
	})
}

func (r *Orders) List(ctx context.Context, q order.Query) ([]order.Order, error) {
	var out []order.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if q.UserID != "" && o.UserID != q.UserID {
				continue
			}
			if q.Status != "" && o.Status != q.Status {
				continue
			}
			out = append(out, cloneOrder(o))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b order.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return page(out, q.Limit, q.Offset), err
}
