package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Patch holds optional coupon field updates. Nil fields are left unchanged.
type Patch struct {
	Description          *string
	Type                 *DiscountType
	Value                *decimal.Decimal
	MinOrderAmount       *decimal.Decimal
	MaxDiscount          *decimal.Decimal
	UsageLimit           *int
	ApplicableCategories *[]product.Category
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	Active               *bool
}

// Apply copies the set fields of p onto c.
func (p Patch) Apply(c *Coupon) {
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.MinOrderAmount != nil {
		c.MinOrderAmount = *p.MinOrderAmount
	}
	if p.MaxDiscount != nil {
		c.MaxDiscount = decimal.NewNullDecimal(*p.MaxDiscount)
	}
	if p.UsageLimit != nil {
		limit := *p.UsageLimit
		c.UsageLimit = &limit
	}
	if p.ApplicableCategories != nil {
		c.ApplicableCategories = append([]product.Category(nil), (*p.ApplicableCategories)...)
	}
	if p.ValidFrom != nil {
		c.ValidFrom = *p.ValidFrom
	}
	if p.ValidUntil != nil {
		c.ValidUntil = *p.ValidUntil
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
}

// Manager implements coupon administration.
type Manager struct {
	repo Repository
	now  func() time.Time
}

// NewManager creates a Manager.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, now: time.Now}
}

// Create validates and stores a new coupon. Usage starts at zero.
func (m *Manager) Create(ctx context.Context, c Coupon) (*Coupon, error) {
	now := m.now().UTC()
	c.Code = NormalizeCode(c.Code)
	c.UsedCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, &c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return &c, nil
}

// Get returns the coupon with the given code.
func (m *Manager) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := m.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// List returns coupons matching q.
func (m *Manager) List(ctx context.Context, q Query) ([]Coupon, error) {
	q.CodePrefix = NormalizeCode(q.CodePrefix)
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	q.Limit = min(q.Limit, maxListLimit)
	q.Offset = max(q.Offset, 0)

	coupons, err := m.repo.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Update applies p to the coupon and stores it. Usage counters are never
// written through Update.
func (m *Manager) Update(ctx context.Context, code string, p Patch) (*Coupon, error) {
	c, err := m.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	p.Apply(c)
	c.UpdatedAt = m.now().UTC()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Deactivate marks the coupon inactive. Coupons are never deleted.
func (m *Manager) Deactivate(ctx context.Context, code string) (*Coupon, error) {
	inactive := false
	return m.Update(ctx, code, Patch{Active: &inactive})
}
