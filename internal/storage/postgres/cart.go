package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/fulfillment/internal/domain/cart"
)

const (
	getCartLinesSQL = `SELECT id, user_id, product_id, variant_id, quantity
		FROM cart_lines WHERE id = ANY($1)`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE id = ANY($1)`

	deleteCartByProductSQL = `DELETE FROM cart_lines
		WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`

	upsertCartLineSQL = `INSERT INTO cart_lines (id, user_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity`

	listCartByUserSQL = `SELECT id, user_id, product_id, variant_id, quantity
		FROM cart_lines WHERE user_id = $1 ORDER BY created_at`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByIDs returns the lines for the given ids, failing with ErrLineNotFound
// when any id is missing.
func (r *CartRepository) GetByIDs(ctx context.Context, ids []string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, getCartLinesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting cart lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("getting cart lines: %w", err)
	}
	if len(lines) != len(ids) {
		return nil, cart.ErrLineNotFound
	}
	return lines, nil
}

// Delete removes the given lines. Missing lines are not an error.
func (r *CartRepository) Delete(ctx context.Context, ids []string) error {
	if _, err := r.pool.Exec(ctx, deleteCartLinesSQL, ids); err != nil {
		return fmt.Errorf("deleting cart lines: %w", err)
	}
	return nil
}

// DeleteByProduct removes a user's lines for one product/variant pair.
func (r *CartRepository) DeleteByProduct(ctx context.Context, userID, productID, variantID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartByProductSQL, userID, productID, variantID); err != nil {
		return fmt.Errorf("deleting cart lines for user %q product %q: %w", userID, productID, err)
	}
	return nil
}

// Upsert writes a cart line, replacing the quantity of an existing one. Used
// by the cart surface and by seeding.
func (r *CartRepository) Upsert(ctx context.Context, l cart.Line) error {
	_, err := r.pool.Exec(ctx, upsertCartLineSQL, l.ID, l.UserID, l.ProductID, l.VariantID, l.Quantity)
	if err != nil {
		return fmt.Errorf("upserting cart line %q: %w", l.ID, err)
	}
	return nil
}

// ListByUser returns all of a user's cart lines in insertion order.
func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.VariantID, &l.Quantity)
	return l, err
}
