package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/events"
	"github.com/shopforge/fulfillment/internal/gateway"
)

// StartInput begins a checkout for a cart selection.
type StartInput struct {
	UserID      string
	Mode        PaymentMode
	CartLineIDs []string
	Address     order.Address
}

// StartResult is the outcome of StartCheckout. OrderID is empty in
// ModePrepaid, where no order exists until the payment verifies. Intent is
// nil for cash on delivery.
type StartResult struct {
	OrderID string
	Status  order.Status
	Intent  *gateway.Intent
}

// StartCheckout prices the selection, pre-checks stock, and begins the flow
// selected by Mode.
func (o *Orchestrator) StartCheckout(ctx context.Context, in StartInput) (*StartResult, error) {
	switch in.Mode {
	case ModePrepaid, ModePrepaidDeferred:
	case ModeCOD:
		return o.createCOD(ctx, in)
	default:
		return nil, &ValidationError{Msg: "unknown payment mode " + string(in.Mode)}
	}

	q, err := o.priceSelection(ctx, in.UserID, in.CartLineIDs, in.Address)
	if err != nil {
		return nil, err
	}
	if err := o.precheckStock(ctx, q); err != nil {
		return nil, err
	}

	if in.Mode == ModePrepaid {
		// No order yet: the buyer pays against the intent and the order is
		// created by ConfirmPayment once capture verifies.
		intent, err := o.gw.CreateIntent(ctx, q.total, o.currency, o.newID())
		if err != nil {
			return nil, errors.Wrap(err, "create payment intent")
		}
		return &StartResult{Intent: intent}, nil
	}

	// Deferred: persist the order first so the buyer has a reference, then
	// register the intent with the gateway.
	now := o.now()
	ord := &order.Order{
		ID:          o.newID(),
		UserID:      in.UserID,
		Status:      order.StatusPaymentPending,
		TotalAmount: q.total,
		Currency:    o.currency,
		Address:     in.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.orders.Create(ctx, ord, o.buildItems(ord.ID, q)); err != nil {
		return nil, errors.Wrap(err, "create pending order")
	}

	intent, err := o.gw.CreateIntent(ctx, q.total, o.currency, ord.ID)
	if err != nil {
		// The pending order stays inspectable and cancellable; retrying
		// blindly could double-create intents at the gateway.
		return nil, errors.Wrapf(err, "create payment intent for order %s", ord.ID)
	}
	if err := o.orders.SetGatewayOrder(ctx, ord.ID, intent.ID); err != nil {
		return nil, errors.Wrapf(err, "record gateway order for %s", ord.ID)
	}

	return &StartResult{OrderID: ord.ID, Status: ord.Status, Intent: intent}, nil
}

// createCOD runs the cash-on-delivery flow: no gateway interaction, inventory
// committed before the order row is written so a stock race never leaves a
// confirmed order without stock. The decrement is compensated if the write
// fails.
func (o *Orchestrator) createCOD(ctx context.Context, in StartInput) (*StartResult, error) {
	q, err := o.priceSelection(ctx, in.UserID, in.CartLineIDs, in.Address)
	if err != nil {
		return nil, err
	}
	if err := o.precheckStock(ctx, q); err != nil {
		return nil, err
	}

	orderID := o.newID()
	for i, pl := range q.lines {
		if _, err := o.ledger.TryDecrement(ctx, pl.sku, pl.line.Quantity); err != nil {
			o.rollbackDecrements(ctx, orderID, q.lines[:i])
			if errors.Is(err, inventory.ErrConcurrencyExhausted) {
				// Outcome of the contended SKU itself is known (CAS never
				// applied), but the request cannot be completed now.
				zctx.From(ctx).Error("stock contention exhausted during COD checkout",
					zap.String("sku", pl.sku), zap.Error(err))
			}
			return nil, err
		}
	}

	now := o.now()
	ord := &order.Order{
		ID:          orderID,
		UserID:      in.UserID,
		Status:      order.StatusOrderConfirmed,
		TotalAmount: q.total,
		Currency:    o.currency,
		Address:     in.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.orders.Create(ctx, ord, o.buildItems(ord.ID, q)); err != nil {
		o.rollbackDecrements(ctx, orderID, q.lines)
		return nil, errors.Wrap(err, "create COD order")
	}

	o.clearLines(ctx, q.lineIDs())
	o.pub.Publish(ctx, events.Event{
		Type:     events.TypeOrderConfirmed,
		OrderID:  ord.ID,
		UserID:   ord.UserID,
		Amount:   ord.TotalAmount,
		Currency: ord.Currency,
	})

	return &StartResult{OrderID: ord.ID, Status: ord.Status}, nil
}

// rollbackDecrements best-effort restores stock taken earlier in a failed
// flow. Failures here become reconciliation events, not errors.
func (o *Orchestrator) rollbackDecrements(ctx context.Context, orderID string, lines []pricedLine) {
	for _, pl := range lines {
		if _, err := o.ledger.TryIncrement(ctx, pl.sku, pl.line.Quantity); err != nil {
			o.logDesync(ctx, orderID, pl.sku, pl.line.Quantity, "rollback increment failed: "+err.Error())
		}
	}
}

// clearLines removes checked-out cart lines. Failures are logged only: the
// order is already committed and cart cleanup is re-drivable.
func (o *Orchestrator) clearLines(ctx context.Context, ids []string) {
	if err := o.cart.Delete(ctx, ids); err != nil {
		zctx.From(ctx).Warn("clear cart lines", zap.Strings("line_ids", ids), zap.Error(err))
	}
}
