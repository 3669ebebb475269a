package memtest

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

var (
	_ product.Repository = (*Products)(nil)
	_ inventory.Store    = (*Products)(nil)
)

// Products is the in-memory product repository.
type Products struct {
	s *Store
}

// List returns active products ordered by name.
func (r *Products) List(ctx context.Context) ([]product.Product, error) {
	var out []product.Product
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			if p.Active {
				out = append(out, p)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b product.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r *Products) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var out *product.Product
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

// GetByIDs returns the products that exist, in id order.
func (r *Products) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	err := r.s.read(ctx, func(st *state) error {
		out = collect(st, ids)
		return nil
	})
	return out, err
}

func (r *Products) Upsert(ctx context.Context, p *product.Product) error {
	return r.s.write(ctx, func(st *state) error {
		if existing, ok := st.products[p.ID]; ok && p.CreatedAt.IsZero() {
			p.CreatedAt = existing.CreatedAt
		}
		st.products[p.ID] = *p
		return nil
	})
}

// LockForUpdate returns the products; the transaction already holds the
// store lock.
func (r *Products) LockForUpdate(ctx context.Context, ids []string) ([]product.Product, error) {
	return r.GetByIDs(ctx, ids)
}

// AdjustStock applies every adjustment or none.
func (r *Products) AdjustStock(ctx context.Context, adjustments []inventory.Adjustment) error {
	return r.s.write(ctx, func(st *state) error {
		next := make(map[string]int, len(adjustments))
		for _, a := range adjustments {
			p, ok := st.products[a.ProductID]
			if !ok {
				return errors.Wrapf(product.ErrNotFound, "adjust stock of %s", a.ProductID)
			}
			stock, seen := next[a.ProductID]
			if !seen {
				stock = p.Stock
			}
			if stock+a.Delta < 0 {
				return &inventory.OutOfStockError{ProductID: a.ProductID, Requested: -a.Delta, Available: stock}
			}
			next[a.ProductID] = stock + a.Delta
		}
		for id, stock := range next {
			p := st.products[id]
			p.Stock = stock
			st.products[id] = p
		}
		return nil
	})
}

func collect(st *state, ids []string) []product.Product {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	out := make([]product.Product, 0, len(sorted))
	for _, id := range sorted {
		if p, ok := st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
