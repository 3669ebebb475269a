package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/coupon"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

const (
	couponColumns = `code, description, discount_type, value, min_order_amount, max_discount,
		usage_limit, used_count, applicable_categories, valid_from, valid_until, active,
		created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR UPDATE`

	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	insertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value,
		min_order_amount, max_discount, usage_limit, used_count, applicable_categories,
		valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11)
		RETURNING used_count, created_at, updated_at`

	updateCouponSQL = `UPDATE coupons SET description = $2, discount_type = $3, value = $4,
		min_order_amount = $5, max_discount = $6, usage_limit = $7, applicable_categories = $8,
		valid_from = $9, valid_until = $10, active = $11, updated_at = now()
		WHERE code = $1
		RETURNING used_count, created_at, updated_at`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value,
		min_order_amount, max_discount, usage_limit, used_count, applicable_categories,
		valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit,
			applicable_categories = EXCLUDED.applicable_categories,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING used_count, created_at, updated_at`

	couponsPkey             = "coupons_pkey"
	couponsUsageWithinLimit = "coupons_usage_within_limit"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db *DB
}

// NewCouponRepository returns a CouponRepository that uses db.
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByCodeSQL, code)
}

// LockByCode loads the coupon and holds its row lock until the surrounding
// transaction ends.
func (r *CouponRepository) LockByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, lockCouponByCodeSQL, code)
}

func (r *CouponRepository) one(ctx context.Context, sql, code string) (*coupon.Coupon, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, code)
	if err != nil {
		return nil, errors.Wrapf(err, "finding coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "finding coupon %q", code)
	}
	return &c, nil
}

// IncrementUsage bumps used_count with a conditional update, so the limit
// holds even for callers that did not lock the row first.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, incrementCouponUsageSQL, code)
	if err != nil {
		return errors.Wrapf(err, "incrementing usage of coupon %q", code)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return errors.Wrapf(err, "checking coupon %q", code)
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return coupon.ErrUsageLimitExceeded
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := r.db.q(ctx).QueryRow(ctx, insertCouponSQL, couponArgs(c)...).
		Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, couponsPkey) {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "creating coupon %q", c.Code)
	}
	return nil
}

// Update stores every field except the usage counter.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	err := r.db.q(ctx).QueryRow(ctx, updateCouponSQL, couponArgs(c)...).
		Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		if isCheckViolation(err, couponsUsageWithinLimit) {
			return coupon.ErrUsageLimitBelowUsage
		}
		return errors.Wrapf(err, "updating coupon %q", c.Code)
	}
	return nil
}

// Upsert inserts or replaces the coupon, keeping usage of an existing one.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	err := r.db.q(ctx).QueryRow(ctx, upsertCouponSQL, couponArgs(c)...).
		Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isCheckViolation(err, couponsUsageWithinLimit) {
			return coupon.ErrUsageLimitBelowUsage
		}
		return errors.Wrapf(err, "upserting coupon %q", c.Code)
	}
	return nil
}

// List returns matching coupons ordered by code.
func (r *CouponRepository) List(ctx context.Context, q coupon.Query) ([]coupon.Coupon, error) {
	var f filter
	if q.Active != nil {
		f.add("active = $%d", *q.Active)
	}
	if q.CodePrefix != "" {
		f.add("starts_with(code, $%d)", q.CodePrefix)
	}
	sql := `SELECT ` + couponColumns + ` FROM coupons` + f.where() + ` ORDER BY code` + f.page(q.Limit, q.Offset)

	rows, err := r.db.q(ctx).Query(ctx, sql, f.args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func couponArgs(c *coupon.Coupon) []any {
	categories := make([]string, len(c.ApplicableCategories))
	for i, cat := range c.ApplicableCategories {
		categories[i] = string(cat)
	}
	var limit *int32
	if c.UsageLimit != nil {
		l := int32(*c.UsageLimit)
		limit = &l
	}
	return []any{
		c.Code, c.Description, string(c.Type), c.Value, c.MinOrderAmount, c.MaxDiscount,
		limit, categories, c.ValidFrom, c.ValidUntil, c.Active,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		maxDiscount  decimal.NullDecimal
		usageLimit   *int32
		categories   []string
	)
	err := row.Scan(
		&c.Code, &c.Description, &discountType, &c.Value, &c.MinOrderAmount, &maxDiscount,
		&usageLimit, &c.UsedCount, &categories, &c.ValidFrom, &c.ValidUntil, &c.Active,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.DiscountType(discountType)
	c.MaxDiscount = maxDiscount
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	if len(categories) > 0 {
		c.ApplicableCategories = make([]product.Category, len(categories))
		for i, cat := range categories {
			c.ApplicableCategories[i] = product.Category(cat)
		}
	}
	return c, err
}
