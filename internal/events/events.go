// Package events publishes order lifecycle and reconciliation events for
// downstream consumers (notifications, analytics, and the operator queue that
// picks up stock desyncs).
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeOrderConfirmed = "order.confirmed"
	TypeOrderCancelled = "order.cancelled"
	TypeOrderRefunded  = "order.refunded"
	// TypeStockDesync flags an order whose inventory could not be fully
	// committed or restored; it requires manual reconciliation.
	TypeStockDesync = "stock.desync"
	// TypePaymentOrphaned flags a captured payment that ended up without a
	// confirmed order.
	TypePaymentOrphaned = "payment.orphaned"
)

// Event is the published envelope. Key selects the partition (the order id,
// or the payment id for orphaned payments).
type Event struct {
	Type       string            `json:"type"`
	OrderID    string            `json:"order_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	PaymentID  string            `json:"payment_id,omitempty"`
	Amount     int64             `json:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Key returns the partition key for the event.
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.PaymentID
}

// Publisher delivers events. Publishing is best-effort from the caller's
// point of view: failures are logged by implementations, never propagated
// into checkout flows.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// Nop is a Publisher that drops everything; used when no brokers are
// configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// Close implements Publisher.
func (Nop) Close() error { return nil }
