package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/order"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

const (
	orderColumns = `id, user_id, subtotal, discount_amount, total_amount, coupon_code,
		status, payment_status, payment_method,
		ship_full_name, ship_street, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
		created_at, updated_at, shipped_at, delivered_at, cancelled_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, name, category, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderByIDSQL = getOrderByIDSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT order_id, product_id, name, category, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, updated_at = $4,
		shipped_at = $5, delivered_at = $6, cancelled_at = $7
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items live in order_items and are written in the same transaction as the
// order row.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order together with its items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		a := o.ShippingAddress
		batch := &pgx.Batch{}
		batch.Queue(insertOrderSQL,
			o.ID, o.UserID, o.Subtotal, o.DiscountAmount, o.TotalAmount, o.CouponCode,
			string(o.Status), string(o.PaymentStatus), o.PaymentMethod,
			a.FullName, a.Street, a.City, a.State, a.PostalCode, a.Country, a.Phone,
			o.CreatedAt, o.UpdatedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
		)
		for i, li := range o.Items {
			batch.Queue(insertOrderItemSQL,
				o.ID, i, li.ProductID, li.Name, string(li.Category), li.Quantity, li.UnitPrice,
			)
		}
		if err := r.db.q(ctx).SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "creating order %q", o.ID)
		}
		return nil
	})
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderByIDSQL, id)
}

// LockByID loads the order and holds its row lock until the surrounding
// transaction ends.
func (r *OrderRepository) LockByID(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, lockOrderByIDSQL, id)
}

func (r *OrderRepository) one(ctx context.Context, sql, id string) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}
	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// Update stores status fields. Items and amounts never change after creation.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.UpdatedAt,
		o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return errors.Wrapf(err, "updating order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// List returns matching orders, newest first.
func (r *OrderRepository) List(ctx context.Context, q order.Query) ([]order.Order, error) {
	var f filter
	if q.UserID != "" {
		f.add("user_id = $%d", q.UserID)
	}
	if q.Status != "" {
		f.add("status = $%d", string(q.Status))
	}
	sql := `SELECT ` + orderColumns + ` FROM orders` + f.where() +
		` ORDER BY created_at DESC, id DESC` + f.page(q.Limit, q.Offset)

	rows, err := r.db.q(ctx).Query(ctx, sql, f.args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders")
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.db.q(ctx).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "loading order items")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID  string
			category string
			li       order.LineItem
		)
		if err := rows.Scan(&orderID, &li.ProductID, &li.Name, &category, &li.Quantity, &li.UnitPrice); err != nil {
			return errors.Wrap(err, "scanning order item")
		}
		li.Category = product.Category(category)
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, li)
	}
	return errors.Wrap(rows.Err(), "loading order items")
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		a             = &o.ShippingAddress
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Subtotal, &o.DiscountAmount, &o.TotalAmount, &o.CouponCode,
		&status, &paymentStatus, &o.PaymentMethod,
		&a.FullName, &a.Street, &a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone,
		&o.CreatedAt, &o.UpdatedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}
