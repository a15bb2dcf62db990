// Package order defines the order aggregate, its lifecycle state machine, and
// the persistence contract for orders.
package order

import (
	"context"
	"fmt"
	"time"
)

// Sentinel errors returned by Repository implementations.
var (
	// ErrNotFound indicates the requested order does not exist.
	ErrNotFound = fmt.Errorf("order not found")
	// ErrStale indicates a conditional write found the row in a different
	// state than expected; the caller lost a race or holds stale data.
	ErrStale = fmt.Errorf("order modified concurrently")
	// ErrDuplicatePayment indicates another order already recorded the same
	// gateway payment reference.
	ErrDuplicatePayment = fmt.Errorf("gateway payment already applied to an order")
)

// Address is the shipping address snapshot stored on the order. It is copied
// at creation time and never re-derived from the user's current profile.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order is the aggregate root. TotalAmount is fixed at creation from the item
// snapshots plus shipping and is never recomputed from the live catalog.
type Order struct {
	ID          string
	UserID      string
	Status      Status
	TotalAmount int64
	Currency    string
	Address     Address

	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	PaidAt           *time.Time

	RefundID   string
	RefundedAt *time.Time
	// StockRestored is true iff inventory has already been returned to the
	// ledger for this order. It guards refund retries against restoring
	// stock twice.
	StockRestored bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one order line. Name, size, and all monetary fields are snapshots
// taken when the order was created; they are immutable afterwards.
type Item struct {
	ID              string
	OrderID         string
	ProductID       string
	VariantID       string
	Name            string
	Size            string
	UnitPrice       int64
	DiscountPercent int64
	FinalPrice      int64
	Quantity        int
}

// Repository defines persistence operations for orders. Mutating operations
// that carry an expected current status are conditional writes: they must
// return ErrStale when the row is no longer in that status, without applying
// the update.
type Repository interface {
	// Create persists an order and its items atomically.
	Create(ctx context.Context, o *Order, items []Item) error
	Get(ctx context.Context, id string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]Item, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// FindByPaymentID looks up an order by its gateway payment reference.
	// Returns ErrNotFound when no order recorded that payment.
	FindByPaymentID(ctx context.Context, gatewayPaymentID string) (*Order, error)

	// SetGatewayOrder records the gateway order reference created for a
	// pending order.
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error
	// TransitionStatus moves the order from one status to another,
	// conditional on the current status.
	TransitionStatus(ctx context.Context, id string, from, to Status) error
	// MarkPaid transitions from the given status to StatusPaymentSuccess and
	// records the payment reference, signature, and capture time.
	MarkPaid(ctx context.Context, id string, from Status, gatewayPaymentID, signature string, paidAt time.Time) error
	// MarkRefunded sets the terminal refunded state with the refund
	// reference. stockRestored may only flip false -> true; implementations
	// must never clear an already-set flag.
	MarkRefunded(ctx context.Context, id, refundID string, refundedAt time.Time, stockRestored bool) error
}
