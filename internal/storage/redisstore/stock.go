// Package redisstore implements the inventory counter store on Redis for
// deployments that keep hot stock counters out of PostgreSQL. The swap runs
// under WATCH so a concurrent write between read and commit aborts the
// transaction instead of silently losing an update.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/shopforge/fulfillment/internal/domain/inventory"
)

// stockKeyPrefix namespaces counters: stock:{sku}.
const stockKeyPrefix = "stock:"

func stockKey(skuID string) string { return stockKeyPrefix + skuID }

// New creates a Redis client for the given address.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		ReadTimeout: 2 * time.Second,
	})
}

var _ inventory.CounterStore = (*StockStore)(nil)

// StockStore implements inventory.CounterStore on Redis.
type StockStore struct {
	client *redis.Client
}

// NewStockStore wraps a Redis client as a counter store.
func NewStockStore(client *redis.Client) *StockStore {
	return &StockStore{client: client}
}

// Get implements inventory.CounterStore.
func (s *StockStore) Get(ctx context.Context, skuID string) (int64, error) {
	v, err := s.client.Get(ctx, stockKey(skuID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, inventory.ErrNotFound
		}
		return 0, fmt.Errorf("getting stock for %q: %w", skuID, err)
	}
	return v, nil
}

// CompareAndSwap implements inventory.CounterStore. A concurrent modification
// of the key aborts the MULTI/EXEC and reads as a failed swap, which the
// ledger's retry loop handles.
func (s *StockStore) CompareAndSwap(ctx context.Context, skuID string, expected, next int64) (bool, error) {
	key := stockKey(skuID)
	applied := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return inventory.ErrNotFound
			}
			return err
		}
		if cur != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			applied = true
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race after the read; report an unapplied swap.
			return nil
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return false, inventory.ErrNotFound
		}
		return false, fmt.Errorf("swapping stock for %q: %w", skuID, err)
	}
	return applied, nil
}

// Set force-writes a counter. Used by seeding and operator corrections.
func (s *StockStore) Set(ctx context.Context, skuID string, stock int64) error {
	if err := s.client.Set(ctx, stockKey(skuID), stock, 0).Err(); err != nil {
		return fmt.Errorf("setting stock for %q: %w", skuID, err)
	}
	return nil
}
