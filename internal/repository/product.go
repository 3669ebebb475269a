package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/inventory"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, category, material, stock, active, created_at, updated_at`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE active ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) ORDER BY id`

	lockProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), COALESCE($9, now()))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			material = EXCLUDED.material,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	adjustStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`

	productStockSQL = `SELECT stock FROM products WHERE id = $1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Store    = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and inventory.Store backed
// by PostgreSQL.
type ProductRepository struct {
	db *DB
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns active products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting product %q", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "getting products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts the product or replaces every field but created_at.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	var updated *time.Time
	if !p.UpdatedAt.IsZero() {
		updated = &p.UpdatedAt
	}
	err := r.db.q(ctx).QueryRow(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Price, string(p.Category), string(p.Material),
		p.Stock, p.Active, updated,
	).Scan(&p.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "upserting product %q", p.ID)
	}
	return nil
}

// LockForUpdate row-locks the products in id order. Outside a transaction
// the locks are released as soon as the statement completes.
func (r *ProductRepository) LockForUpdate(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "locking products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// AdjustStock applies every adjustment or none. A decrement that would take
// stock below zero yields *inventory.OutOfStockError.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustments []inventory.Adjustment) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		for _, a := range adjustments {
			var stock int
			err := q.QueryRow(ctx, adjustStockSQL, a.ProductID, a.Delta).Scan(&stock)
			if err == nil {
				continue
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrapf(err, "adjusting stock of %q", a.ProductID)
			}
			if err := q.QueryRow(ctx, productStockSQL, a.ProductID).Scan(&stock); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return errors.Wrapf(product.ErrNotFound, "adjust stock of %s", a.ProductID)
				}
				return errors.Wrapf(err, "reading stock of %q", a.ProductID)
			}
			return &inventory.OutOfStockError{ProductID: a.ProductID, Requested: -a.Delta, Available: stock}
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		category string
		material string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &category, &material,
		&p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Category = product.Category(category)
	p.Material = product.Material(material)
	return p, err
}
