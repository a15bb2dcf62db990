package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/fulfillment/internal/domain/inventory"
)

const (
	getStockSQL = `SELECT stock FROM stock_counters WHERE sku_id = $1`

	// The WHERE stock = expected predicate is the compare half of the CAS;
	// RowsAffected tells whether the swap applied.
	casStockSQL = `UPDATE stock_counters SET stock = $3
		WHERE sku_id = $1 AND stock = $2`

	upsertStockSQL = `INSERT INTO stock_counters (sku_id, stock)
		VALUES ($1, $2)
		ON CONFLICT (sku_id) DO UPDATE SET stock = EXCLUDED.stock`
)

var _ inventory.CounterStore = (*StockStore)(nil)

// StockStore implements inventory.CounterStore on a PostgreSQL counter table.
// Conditional updates carry the comparison into the row predicate, so two
// racing decrements can never both apply against the same observed value.
type StockStore struct {
	pool *pgxpool.Pool
}

// NewStockStore returns a StockStore that uses the given pool.
func NewStockStore(pool *pgxpool.Pool) *StockStore {
	return &StockStore{pool: pool}
}

// Get implements inventory.CounterStore.
func (s *StockStore) Get(ctx context.Context, skuID string) (int64, error) {
	var stock int64
	err := s.pool.QueryRow(ctx, getStockSQL, skuID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrNotFound
		}
		return 0, fmt.Errorf("getting stock for %q: %w", skuID, err)
	}
	return stock, nil
}

// CompareAndSwap implements inventory.CounterStore.
func (s *StockStore) CompareAndSwap(ctx context.Context, skuID string, expected, next int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, casStockSQL, skuID, expected, next)
	if err != nil {
		return false, fmt.Errorf("swapping stock for %q: %w", skuID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing counter.
		if _, gerr := s.Get(ctx, skuID); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

// Set force-writes a counter. Used by seeding and operator corrections, never
// by checkout flows.
func (s *StockStore) Set(ctx context.Context, skuID string, stock int64) error {
	if _, err := s.pool.Exec(ctx, upsertStockSQL, skuID, stock); err != nil {
		return fmt.Errorf("setting stock for %q: %w", skuID, err)
	}
	return nil
}
