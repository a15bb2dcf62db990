// Package inventory implements the per-SKU stock ledger on top of a
// compare-and-swap counter store.
//
// The ledger is SKU-agnostic: callers resolve whether a product or one of its
// variants owns the counter before calling in (see catalog.ResolveSKU). The
// only synchronization primitive is the store's conditional write, retried a
// bounded number of times with randomized backoff to absorb races between
// concurrent buyers.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/shopforge/fulfillment/pkg/retry"
)

// DefaultAttempts is the read-check-write attempt budget per operation.
const DefaultAttempts = 3

// ErrConcurrencyExhausted is returned when every CAS attempt lost its race.
// It is a critical operational failure, not an out-of-stock answer: a payment
// may already be captured, so callers must log and alert rather than surface
// it as "out of stock".
var ErrConcurrencyExhausted = fmt.Errorf("stock update contention: attempts exhausted")

// ErrNotFound indicates the SKU has no counter in the store.
var ErrNotFound = fmt.Errorf("sku not found")

// InsufficientStockError reports a pre-write check failure: the counter held
// fewer units than requested. No mutation was attempted.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// CounterStore is the transactional key/value contract the ledger runs on.
// CompareAndSwap must atomically write next only if the counter still holds
// expected, reporting whether the swap happened.
type CounterStore interface {
	Get(ctx context.Context, skuID string) (int64, error)
	CompareAndSwap(ctx context.Context, skuID string, expected, next int64) (bool, error)
}

// Ledger wraps a CounterStore with bounded optimistic-concurrency retries.
type Ledger struct {
	store    CounterStore
	attempts int
	backoff  retry.Policy
}

// New creates a Ledger with the given attempt budget and backoff policy.
// Zero attempts falls back to DefaultAttempts; a nil policy means no delay.
func New(store CounterStore, attempts int, backoff retry.Policy) *Ledger {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff == nil {
		backoff = retry.None{}
	}
	return &Ledger{store: store, attempts: attempts, backoff: backoff}
}

// Stock reads the current counter value without mutating it.
func (l *Ledger) Stock(ctx context.Context, skuID string) (int64, error) {
	return l.store.Get(ctx, skuID)
}

// TryDecrement atomically subtracts quantity from the SKU's counter and
// returns the new value. It fails with *InsufficientStockError before any
// write when the counter is too low, and with ErrConcurrencyExhausted when
// every conditional write lost to a concurrent update.
func (l *Ledger) TryDecrement(ctx context.Context, skuID string, quantity int) (int64, error) {
	if quantity <= 0 {
		return 0, errors.Errorf("invalid decrement quantity %d for %s", quantity, skuID)
	}

	for attempt := 1; attempt <= l.attempts; attempt++ {
		current, err := l.store.Get(ctx, skuID)
		if err != nil {
			return 0, errors.Wrapf(err, "read stock for %s", skuID)
		}
		if current < int64(quantity) {
			return 0, &InsufficientStockError{SKU: skuID, Requested: quantity, Available: current}
		}

		next := current - int64(quantity)
		swapped, err := l.store.CompareAndSwap(ctx, skuID, current, next)
		if err != nil {
			return 0, errors.Wrapf(err, "decrement stock for %s", skuID)
		}
		if swapped {
			return next, nil
		}

		if attempt < l.attempts {
			if err := retry.Sleep(ctx, l.backoff.Delay(attempt)); err != nil {
				return 0, err
			}
		}
	}
	return 0, errors.Wrapf(ErrConcurrencyExhausted, "decrement %s by %d", skuID, quantity)
}

// TryIncrement atomically adds quantity back to the SKU's counter (refund
// restock). The only floor check is non-negativity of the value read.
func (l *Ledger) TryIncrement(ctx context.Context, skuID string, quantity int) (int64, error) {
	if quantity <= 0 {
		return 0, errors.Errorf("invalid increment quantity %d for %s", quantity, skuID)
	}

	for attempt := 1; attempt <= l.attempts; attempt++ {
		current, err := l.store.Get(ctx, skuID)
		if err != nil {
			return 0, errors.Wrapf(err, "read stock for %s", skuID)
		}
		if current < 0 {
			return 0, errors.Errorf("negative stock %d for %s", current, skuID)
		}

		next := current + int64(quantity)
		swapped, err := l.store.CompareAndSwap(ctx, skuID, current, next)
		if err != nil {
			return 0, errors.Wrapf(err, "increment stock for %s", skuID)
		}
		if swapped {
			return next, nil
		}

		if attempt < l.attempts {
			if err := retry.Sleep(ctx, l.backoff.Delay(attempt)); err != nil {
				return 0, err
			}
		}
	}
	return 0, errors.Wrapf(ErrConcurrencyExhausted, "increment %s by %d", skuID, quantity)
}
