// Package gateway defines the payment gateway collaborator contract and the
// local signature verification scheme.
//
// The gateway is treated as untrusted and at-least-once: calls may be
// retried, responses may be slow or stale, and a payment fetched right after
// intent creation may not yet reflect capture. Nothing here assumes
// synchronous consistency.
package gateway

import (
	"context"
	"fmt"
)

// Payment statuses reported by the gateway.
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// Sentinel errors for gateway calls.
var (
	// ErrUnavailable covers network errors, timeouts, and configuration
	// failures. A timeout is never interpreted as failure-to-pay.
	ErrUnavailable = fmt.Errorf("payment gateway unavailable")
	// ErrPaymentNotFound indicates the gateway has no record of the payment.
	ErrPaymentNotFound = fmt.Errorf("payment not found at gateway")
)

// Error is a gateway-reported failure with its message preserved for
// server-side logs. It is never surfaced verbatim to clients.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}

// Intent is a remote payment-intent record: the gateway-side order the buyer
// pays against.
type Intent struct {
	ID       string
	Amount   int64
	Currency string
}

// Payment is the gateway's record of a payment attempt.
type Payment struct {
	ID     string
	Amount int64
	Status string
}

// Refund is the gateway's record of an issued refund.
type Refund struct {
	ID     string
	Amount int64
	Status string
}

// Client is the outbound gateway contract consumed by the checkout
// orchestrator. Amounts are integer minor currency units.
type Client interface {
	// CreateIntent registers an expected incoming payment. Fails with
	// ErrUnavailable on network or configuration errors.
	CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*Intent, error)
	// FetchPayment returns the gateway's current view of a payment. Fails
	// with ErrPaymentNotFound when the gateway has no record.
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	// Refund issues a refund for the given captured payment.
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error)
}
