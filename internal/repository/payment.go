package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, user_id, amount, subtotal, discount_amount, currency, method,
		gateway, transaction_id, gateway_transaction_id, card_last4, card_brand, status,
		refunded_amount, failure_reason, paid_at, failed_at, cancelled_at, refunded_at,
		created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	getPaymentByIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	getPaymentByOrderIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	lockPaymentByIDSQL = getPaymentByIDSQL + ` FOR UPDATE`

	updatePaymentSQL = `UPDATE payments SET status = $2, gateway_transaction_id = $3,
		refunded_amount = $4, failure_reason = $5, paid_at = $6, failed_at = $7,
		cancelled_at = $8, refunded_at = $9, updated_at = $10
		WHERE id = $1`

	insertRefundSQL = `INSERT INTO refunds (payment_id, position, amount, reason, refunded_at, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id, position) DO NOTHING`

	listRefundsSQL = `SELECT payment_id, amount, reason, refunded_at, transaction_id
		FROM refunds WHERE payment_id = ANY($1) ORDER BY payment_id, position`

	listUnsettledSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN ('pending', 'processing') AND gateway <> $1 AND created_at < $2
			AND id <> ALL($3::text[])
		ORDER BY created_at, id LIMIT $4`

	paymentsOrderIDKey = "payments_order_id_key"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
// Refunds are append-only rows in the refunds table.
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository returns a PaymentRepository that uses db.
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts p. The unique constraint on order_id turns a second payment
// for the same order into payment.ErrAlreadyExists.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		_, err := r.db.q(ctx).Exec(ctx, insertPaymentSQL,
			p.ID, p.OrderID, p.UserID, p.Amount, p.Subtotal, p.DiscountAmount,
			string(p.Currency), string(p.Method), p.Gateway, p.TransactionID,
			p.GatewayTransactionID, p.CardLast4, p.CardBrand, string(p.Status),
			p.RefundedAmount, p.FailureReason, p.PaidAt, p.FailedAt, p.CancelledAt,
			p.RefundedAt, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, paymentsOrderIDKey) {
				return payment.ErrAlreadyExists
			}
			return errors.Wrapf(err, "creating payment %q", p.ID)
		}
		return r.insertRefunds(ctx, p)
	})
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByIDSQL, id)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByOrderIDSQL, orderID)
}

// LockByID loads the payment and holds its row lock until the surrounding
// transaction ends.
func (r *PaymentRepository) LockByID(ctx context.Context, id string) (*payment.Payment, error) {
	return r.one(ctx, lockPaymentByIDSQL, id)
}

func (r *PaymentRepository) one(ctx context.Context, sql, arg string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "getting payment %q", arg)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting payment %q", arg)
	}
	payments := []payment.Payment{p}
	if err := r.loadRefunds(ctx, payments); err != nil {
		return nil, err
	}
	return &payments[0], nil
}

// Update persists status, refunds and timestamps. Order, amount and
// created_at are fixed at creation.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		tag, err := r.db.q(ctx).Exec(ctx, updatePaymentSQL,
			p.ID, string(p.Status), p.GatewayTransactionID, p.RefundedAmount, p.FailureReason,
			p.PaidAt, p.FailedAt, p.CancelledAt, p.RefundedAt, p.UpdatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "updating payment %q", p.ID)
		}
		if tag.RowsAffected() == 0 {
			return payment.ErrNotFound
		}
		return r.insertRefunds(ctx, p)
	})
}

func (r *PaymentRepository) insertRefunds(ctx context.Context, p *payment.Payment) error {
	if len(p.Refunds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, rf := range p.Refunds {
		batch.Queue(insertRefundSQL, p.ID, i, rf.Amount, rf.Reason, rf.RefundedAt, rf.TransactionID)
	}
	if err := r.db.q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "storing refunds of payment %q", p.ID)
	}
	return nil
}

// List returns matching payments, newest first.
func (r *PaymentRepository) List(ctx context.Context, q payment.Query) ([]payment.Payment, error) {
	var f filter
	if q.Status != "" {
		f.add("status = $%d", string(q.Status))
	}
	if q.Gateway != "" {
		f.add("gateway = $%d", q.Gateway)
	}
	if q.Method != "" {
		f.add("method = $%d", string(q.Method))
	}
	if q.UserID != "" {
		f.add("user_id = $%d", q.UserID)
	}
	if q.From != nil {
		f.add("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		f.add("created_at <= $%d", *q.To)
	}
	sql := `SELECT ` + paymentColumns + ` FROM payments` + f.where() +
		` ORDER BY created_at DESC, id DESC` + f.page(q.Limit, q.Offset)

	return r.many(ctx, sql, f.args...)
}

// ListUnsettled returns pending or processing payments through gateways other
// than excludeGateway created before olderThan, oldest first.
func (r *PaymentRepository) ListUnsettled(ctx context.Context, excludeGateway string, olderThan time.Time, skip []string, limit int) ([]payment.Payment, error) {
	if skip == nil {
		// NULL would make the ALL comparison exclude every row.
		skip = []string{}
	}
	return r.many(ctx, listUnsettledSQL, excludeGateway, olderThan, skip, limit)
}

func (r *PaymentRepository) many(ctx context.Context, sql string, args ...any) ([]payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing payments")
	}
	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, errors.Wrap(err, "listing payments")
	}
	if err := r.loadRefunds(ctx, payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *PaymentRepository) loadRefunds(ctx context.Context, payments []payment.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	ids := make([]string, len(payments))
	index := make(map[string]int, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := r.db.q(ctx).Query(ctx, listRefundsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "loading refunds")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			paymentID string
			rf        payment.Refund
		)
		if err := rows.Scan(&paymentID, &rf.Amount, &rf.Reason, &rf.RefundedAt, &rf.TransactionID); err != nil {
			return errors.Wrap(err, "scanning refund")
		}
		i := index[paymentID]
		payments[i].Refunds = append(payments[i].Refunds, rf)
	}
	return errors.Wrap(rows.Err(), "loading refunds")
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p        payment.Payment
		currency string
		method   string
		status   string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Subtotal, &p.DiscountAmount, &currency, &method,
		&p.Gateway, &p.TransactionID, &p.GatewayTransactionID, &p.CardLast4, &p.CardBrand, &status,
		&p.RefundedAmount, &p.FailureReason, &p.PaidAt, &p.FailedAt, &p.CancelledAt, &p.RefundedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.Currency = payment.Currency(currency)
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	return p, err
}
