// Package checkout implements the order fulfillment orchestrator: pricing a
// cart selection, verifying payments, committing inventory, and running the
// refund flow.
//
// Every flow follows the same skeleton: price, read-only stock pre-check,
// side-effecting commit, inventory decrement, cart cleanup. The flows differ
// only in when the order row is created relative to payment capture, selected
// by PaymentMode.
package checkout

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/fulfillment/internal/domain/cart"
	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/events"
	"github.com/shopforge/fulfillment/internal/gateway"
)

// PaymentMode selects which checkout flow a request runs.
type PaymentMode string

const (
	// ModePrepaid is pay-first-then-create: the order row only exists after
	// the payment verifies, so no ghost unpaid orders are ever written.
	ModePrepaid PaymentMode = "PREPAID"
	// ModePrepaidDeferred creates the order in PAYMENT_PENDING before the
	// buyer pays, giving them a reference up front.
	ModePrepaidDeferred PaymentMode = "PREPAID_DEFERRED"
	// ModeCOD is cash on delivery: no gateway interaction at all.
	ModeCOD PaymentMode = "COD"
)

// ValidationError is a bad-input failure: recoverable, returned to the
// caller, with no side effects performed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrSignatureInvalid indicates the presented gateway signature does not
// match the locally computed HMAC. Treated as a potential integrity
// violation: the affected order, if one exists, moves to PAYMENT_FAILED.
var ErrSignatureInvalid = fmt.Errorf("payment signature verification failed")

// ErrRefundUnavailable indicates the order has no recorded gateway payment,
// so there is nothing to refund against.
var ErrRefundUnavailable = fmt.Errorf("order has no gateway payment to refund")

// AmountMismatchError indicates the captured amount differs from the order
// total. The payment is never applied to the order.
type AmountMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment amount %d does not match order total %d", e.Actual, e.Expected)
}

// NotCapturedError indicates the gateway reports the payment in a
// non-captured state.
type NotCapturedError struct {
	Status string
}

func (e *NotCapturedError) Error() string {
	return fmt.Sprintf("payment not captured: gateway status %q", e.Status)
}

// Orchestrator coordinates the pricing engine, inventory ledger, order
// aggregate, and payment gateway. It holds no locks of its own; the ledger's
// compare-and-swap is the only synchronization primitive.
type Orchestrator struct {
	catalog catalog.Repository
	cart    cart.Repository
	orders  order.Repository
	ledger  *inventory.Ledger
	gw      gateway.Client
	signer  gateway.Signer
	pub     events.Publisher

	currency string

	now   func() time.Time
	newID func() string
}

// Config holds non-dependency orchestrator settings.
type Config struct {
	// Currency is the ISO code all orders are charged in. Defaults to INR.
	Currency string
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(
	cfg Config,
	catalogRepo catalog.Repository,
	cartRepo cart.Repository,
	orderRepo order.Repository,
	ledger *inventory.Ledger,
	gw gateway.Client,
	signer gateway.Signer,
	pub events.Publisher,
) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		catalog:  catalogRepo,
		cart:     cartRepo,
		orders:   orderRepo,
		ledger:   ledger,
		gw:       gw,
		signer:   signer,
		pub:      pub,
		currency: cfg.Currency,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}
