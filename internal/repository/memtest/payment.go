package memtest

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

var _ payment.Repository = (*Payments)(nil)

// Payments is the in-memory payment repository.
type Payments struct {
	s *Store
}

func clonePayment(p payment.Payment) payment.Payment {
	p.Refunds = slices.Clone(p.Refunds)
	return p
}

func (r *Payments) Create(ctx context.Context, p *payment.Payment) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.paymentByOrder[p.OrderID]; ok {
			return payment.ErrAlreadyExists
		}
		st.payments[p.ID] = clonePayment(*p)
		st.paymentByOrder[p.OrderID] = p.ID
		return nil
	})
}

func (r *Payments) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return payment.ErrNotFound
		}
		p = clonePayment(p)
		out = &p
		return nil
	})
	return out, err
}

func (r *Payments) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		id, ok := st.paymentByOrder[orderID]
		if !ok {
			return payment.ErrNotFound
		}
		p := clonePayment(st.payments[id])
		out = &p
		return nil
	})
	return out, err
}

func (r *Payments) LockByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *Payments) Update(ctx context.Context, p *payment.Payment) error {
	return r.s.write(ctx, func(st *state) error {
		existing, ok := st.payments[p.ID]
		if !ok {
			return payment.ErrNotFound
		}
		next := clonePayment(*p)
		next.OrderID = existing.OrderID
		next.Amount = existing.Amount
		next.CreatedAt = existing.CreatedAt
		st.payments[p.ID] = next
		return nil
	})
}

func (r *Payments) List(ctx context.Context, q payment.Query) ([]payment.Payment, error) {
	var out []payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.payments {
			if matches(p, q) {
				out = append(out, clonePayment(p))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b payment.Payment) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return page(out, q.Limit, q.Offset), err
}

func matches(p payment.Payment, q payment.Query) bool {
	switch {
	case q.Status != "" && p.Status != q.Status,
		q.Gateway != "" && p.Gateway != q.Gateway,
		q.Method != "" && p.Method != q.Method,
		q.UserID != "" && p.UserID != q.UserID,
		q.From != nil && p.CreatedAt.Before(*q.From),
		q.To != nil && p.CreatedAt.After(*q.To):
		return false
	}
	return true
}

func (r *Payments) ListUnsettled(ctx context.Context, excludeGateway string, olderThan time.Time, skip []string, limit int) ([]payment.Payment, error) {
	var out []payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.payments {
			if p.Status.Settled() || p.Gateway == excludeGateway || !p.CreatedAt.Before(olderThan) || slices.Contains(skip, p.ID) {
				continue
			}
			out = append(out, clonePayment(p))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b payment.Payment) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return page(out, limit, 0), err
}
