package memtest

import (
	"context"
	"slices"
	"strings"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
)

var _ coupon.Repository = (*Coupons)(nil)

// Coupons is the in-memory coupon repository.
type Coupons struct {
	s *Store
}

func cloneCoupon(c coupon.Coupon) coupon.Coupon {
	c.ApplicableCategories = slices.Clone(c.ApplicableCategories)
	if c.UsageLimit != nil {
		limit := *c.UsageLimit
		c.UsageLimit = &limit
	}
	return c
}

func (r *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := r.s.read(ctx, func(st *state) error {
		c, ok := st.coupons[code]
		if !ok {
			return coupon.ErrNotFound
		}
		c = cloneCoupon(c)
		out = &c
		return nil
	})
	return out, err
}

func (r *Coupons) LockByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.FindByCode(ctx, code)
}

func (r *Coupons) IncrementUsage(ctx context.Context, code string) error {
	return r.s.write(ctx, func(st *state) error {
		c, ok := st.coupons[code]
		if !ok {
			return coupon.ErrNotFound
		}
		if c.Exhausted() {
			return coupon.ErrUsageLimitExceeded
		}
		c.UsedCount++
		st.coupons[code] = c
		return nil
	})
}

func (r *Coupons) Create(ctx context.Context, c *coupon.Coupon) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.coupons[c.Code]; ok {
			return coupon.ErrDuplicateCode
		}
		st.coupons[c.Code] = cloneCoupon(*c)
		return nil
	})
}

// Update stores every field except the usage counter.
func (r *Coupons) Update(ctx context.Context, c *coupon.Coupon) error {
	return r.s.write(ctx, func(st *state) error {
		existing, ok := st.coupons[c.Code]
		if !ok {
			return coupon.ErrNotFound
		}
		next := cloneCoupon(*c)
		next.UsedCount = existing.UsedCount
		next.CreatedAt = existing.CreatedAt
		if !withinLimit(next) {
			return coupon.ErrUsageLimitBelowUsage
		}
		st.coupons[c.Code] = next
		return nil
	})
}

// Upsert inserts or replaces the coupon, keeping usage of an existing one.
func (r *Coupons) Upsert(ctx context.Context, c *coupon.Coupon) error {
	return r.s.write(ctx, func(st *state) error {
		next := cloneCoupon(*c)
		if existing, ok := st.coupons[c.Code]; ok {
			next.UsedCount = existing.UsedCount
			next.CreatedAt = existing.CreatedAt
		}
		if !withinLimit(next) {
			return coupon.ErrUsageLimitBelowUsage
		}
		st.coupons[c.Code] = next
		return nil
	})
}

// withinLimit mirrors the coupons_usage_within_limit constraint.
func withinLimit(c coupon.Coupon) bool {
	return c.UsageLimit == nil || c.UsedCount <= *c.UsageLimit
}

// List returns matching coupons ordered by code.
func (r *Coupons) List(ctx context.Context, q coupon.Query) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.coupons {
			if q.Active != nil && c.Active != *q.Active {
				continue
			}
			if !strings.HasPrefix(c.Code, q.CodePrefix) {
				continue
			}
			out = append(out, cloneCoupon(c))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return page(out, q.Limit, q.Offset), err
}

// page applies offset and limit. A limit of zero means no limit.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[max(offset, 0):]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
