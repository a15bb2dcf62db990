package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/fulfillment/internal/domain/order"
)

const (
	orderColumns = `id, user_id, status, total_amount, currency,
		address_line1, address_line2, address_city, address_state, address_postal_code, address_country,
		gateway_order_id, gateway_payment_id, gateway_signature, paid_at,
		refund_id, refunded_at, stock_restored, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	createOrderItemSQL = `INSERT INTO order_items
		(id, order_id, product_id, variant_id, name, size, unit_price, discount_percent, final_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	findOrderByPaymentSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_payment_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	getOrderItemsSQL = `SELECT id, order_id, product_id, variant_id, name, size,
		unit_price, discount_percent, final_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`

	setGatewayOrderSQL = `UPDATE orders SET gateway_order_id = $2, updated_at = now()
		WHERE id = $1`

	transitionStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	markPaidSQL = `UPDATE orders SET status = $3, gateway_payment_id = $4,
		gateway_signature = $5, paid_at = $6, updated_at = now()
		WHERE id = $1 AND status = $2`

	markRefundedSQL = `UPDATE orders SET status = $2, refund_id = $3, refunded_at = $4,
		stock_restored = stock_restored OR $5, updated_at = now()
		WHERE id = $1`
)

// uniqueViolation is the SQLSTATE raised by the partial unique index on
// gateway_payment_id.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its item snapshots in one transaction. A
// duplicate gateway payment reference surfaces as order.ErrDuplicatePayment.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, items []order.Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, string(o.Status), o.TotalAmount, o.Currency,
		o.Address.Line1, o.Address.Line2, o.Address.City, o.Address.State, o.Address.PostalCode, o.Address.Country,
		o.GatewayOrderID, o.GatewayPaymentID, o.GatewaySignature, o.PaidAt,
		o.RefundID, o.RefundedAt, o.StockRestored, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrDuplicatePayment
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, createOrderItemSQL,
			it.ID, it.OrderID, it.ProductID, it.VariantID, it.Name, it.Size,
			it.UnitPrice, it.DiscountPercent, it.FinalPrice, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("creating item for order %q: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a single order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// Items returns the item snapshots for an order.
func (r *OrderRepository) Items(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, getOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// FindByPaymentID looks up the order holding a gateway payment reference.
func (r *OrderRepository) FindByPaymentID(ctx context.Context, gatewayPaymentID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, findOrderByPaymentSQL, gatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("finding order by payment %q: %w", gatewayPaymentID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order by payment %q: %w", gatewayPaymentID, err)
	}
	return &o, nil
}

// SetGatewayOrder records the gateway order reference for a pending order.
func (r *OrderRepository) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error {
	tag, err := r.pool.Exec(ctx, setGatewayOrderSQL, id, gatewayOrderID)
	if err != nil {
		return fmt.Errorf("setting gateway order for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// TransitionStatus is a conditional write: the update only applies when the
// row still holds the expected status, otherwise ErrStale (or ErrNotFound) is
// returned.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, transitionStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transitioning order %q to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

// MarkPaid conditionally records the verified payment.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, from order.Status, gatewayPaymentID, signature string, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx, markPaidSQL,
		id, string(from), string(order.StatusPaymentSuccess), gatewayPaymentID, signature, paidAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrDuplicatePayment
		}
		return fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

// MarkRefunded sets the terminal refunded state. The OR on stock_restored
// keeps a previously set flag from being cleared by a retry.
func (r *OrderRepository) MarkRefunded(ctx context.Context, id, refundID string, refundedAt time.Time, stockRestored bool) error {
	tag, err := r.pool.Exec(ctx, markRefundedSQL,
		id, string(order.StatusRefunded), refundID, refundedAt, stockRestored,
	)
	if err != nil {
		return fmt.Errorf("marking order %q refunded: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) staleOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStale
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.TotalAmount, &o.Currency,
		&o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.State, &o.Address.PostalCode, &o.Address.Country,
		&o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature, &o.PaidAt,
		&o.RefundID, &o.RefundedAt, &o.StockRestored, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Name, &it.Size,
		&it.UnitPrice, &it.DiscountPercent, &it.FinalPrice, &it.Quantity,
	)
	return it, err
}
