package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/events"
	"github.com/shopforge/fulfillment/internal/gateway"
)

// ConfirmInput verifies a gateway payment and confirms the matching order.
//
// With OrderID set it verifies a pending order created by StartCheckout
// (deferred flow). With OrderID empty it runs the pay-first flow: the cart
// selection is re-priced and the order is created only after the payment
// checks out, so a failed verification leaves nothing behind.
type ConfirmInput struct {
	OrderID string
	UserID  string

	// Pay-first flow only.
	CartLineIDs []string
	Address     order.Address

	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// ConfirmResult reports the order's status after confirmation.
type ConfirmResult struct {
	OrderID string
	Status  order.Status
}

// ConfirmPayment is idempotent: retrying with the same gateway payment id
// against an already confirmed order returns the same result and performs no
// further inventory mutations.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	if in.GatewayPaymentID == "" {
		return nil, &ValidationError{Msg: "gateway payment id required"}
	}
	if in.OrderID == "" {
		return o.confirmAndCreate(ctx, in)
	}
	return o.confirmPending(ctx, in)
}

// confirmPending drives a PAYMENT_PENDING (or retried PAYMENT_FAILED) order
// through verification, inventory commit, and confirmation.
func (o *Orchestrator) confirmPending(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	ord, err := o.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if in.UserID != "" && ord.UserID != in.UserID {
		return nil, order.ErrNotFound
	}

	switch ord.Status {
	case order.StatusOrderConfirmed, order.StatusShipped, order.StatusDelivered, order.StatusRefunded:
		// Already past confirmation: safe retry, nothing left to do.
		return &ConfirmResult{OrderID: ord.ID, Status: ord.Status}, nil
	case order.StatusPaymentPending, order.StatusPaymentFailed, order.StatusPaymentSuccess:
	default:
		return nil, &order.InvalidTransitionError{From: ord.Status, To: order.StatusPaymentSuccess}
	}

	gatewayOrderID := ord.GatewayOrderID
	if gatewayOrderID == "" {
		gatewayOrderID = in.GatewayOrderID
	}
	if !o.signer.Verify(gatewayOrderID, in.GatewayPaymentID, in.Signature) {
		o.failPayment(ctx, ord)
		return nil, ErrSignatureInvalid
	}

	pay, err := o.gw.FetchPayment(ctx, in.GatewayPaymentID)
	if err != nil {
		// Unavailable or not-yet-visible payments are retriable; neither is
		// evidence of failure to pay, so the order status is untouched.
		return nil, errors.Wrapf(err, "fetch payment for order %s", ord.ID)
	}
	if pay.Status != gateway.StatusCaptured {
		o.failPayment(ctx, ord)
		return nil, &NotCapturedError{Status: pay.Status}
	}
	if pay.Amount != ord.TotalAmount {
		o.failPayment(ctx, ord)
		return nil, &AmountMismatchError{Expected: ord.TotalAmount, Actual: pay.Amount}
	}

	// Payment is captured: from here the flow must run to completion even if
	// the caller goes away. A later retry of the same call re-drives it.
	ctx = context.WithoutCancel(ctx)

	resumed := ord.Status == order.StatusPaymentSuccess
	if !resumed {
		err := o.orders.MarkPaid(ctx, ord.ID, ord.Status, in.GatewayPaymentID, in.Signature, o.now())
		if errors.Is(err, order.ErrStale) {
			// Lost the race to a concurrent retry; report what it reached.
			fresh, ferr := o.orders.Get(ctx, ord.ID)
			if ferr != nil {
				return nil, ferr
			}
			return &ConfirmResult{OrderID: fresh.ID, Status: fresh.Status}, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "mark order %s paid", ord.ID)
		}
	}

	items, err := o.orders.Items(ctx, ord.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load items for order %s", ord.ID)
	}

	if resumed {
		// A previous invocation captured the payment but died before
		// confirming. Which decrements it applied is unknowable, so stock is
		// not touched again; operators reconcile from the event.
		o.logDesync(ctx, ord.ID, "", 0, "confirmation resumed after interrupted inventory commit")
	} else if err := o.commitInventory(ctx, ord, items); err != nil {
		return nil, err
	}

	if err := o.orders.TransitionStatus(ctx, ord.ID, order.StatusPaymentSuccess, order.StatusOrderConfirmed); err != nil {
		if errors.Is(err, order.ErrStale) {
			fresh, ferr := o.orders.Get(ctx, ord.ID)
			if ferr == nil && fresh.Status == order.StatusOrderConfirmed {
				return &ConfirmResult{OrderID: fresh.ID, Status: fresh.Status}, nil
			}
		}
		return nil, errors.Wrapf(err, "confirm order %s", ord.ID)
	}

	for _, it := range items {
		if err := o.cart.DeleteByProduct(ctx, ord.UserID, it.ProductID, it.VariantID); err != nil {
			zctx.From(ctx).Warn("clear cart line",
				zap.String("order_id", ord.ID),
				zap.String("product_id", it.ProductID),
				zap.Error(err),
			)
		}
	}

	o.pub.Publish(ctx, events.Event{
		Type:      events.TypeOrderConfirmed,
		OrderID:   ord.ID,
		UserID:    ord.UserID,
		PaymentID: in.GatewayPaymentID,
		Amount:    ord.TotalAmount,
		Currency:  ord.Currency,
	})
	return &ConfirmResult{OrderID: ord.ID, Status: order.StatusOrderConfirmed}, nil
}

// commitInventory decrements stock for every order item after a verified
// capture. A clean insufficient-stock failure compensates the prefix and
// fails the payment state; contention exhaustion cannot be compensated
// (outcome unknown) and is flagged for reconciliation instead of rolling
// back a captured payment.
func (o *Orchestrator) commitInventory(ctx context.Context, ord *order.Order, items []order.Item) error {
	for i, it := range items {
		sku := catalog.ItemSKU(it.ProductID, it.VariantID)
		_, err := o.ledger.TryDecrement(ctx, sku, it.Quantity)
		if err == nil {
			continue
		}

		var ise *inventory.InsufficientStockError
		if errors.As(err, &ise) {
			for _, done := range items[:i] {
				doneSKU := catalog.ItemSKU(done.ProductID, done.VariantID)
				if _, ierr := o.ledger.TryIncrement(ctx, doneSKU, done.Quantity); ierr != nil {
					o.logDesync(ctx, ord.ID, doneSKU, done.Quantity, "compensating increment failed: "+ierr.Error())
				}
			}
			if terr := o.orders.TransitionStatus(ctx, ord.ID, order.StatusPaymentSuccess, order.StatusPaymentFailed); terr != nil {
				zctx.From(ctx).Error("move order to payment failed",
					zap.String("order_id", ord.ID), zap.Error(terr))
			}
			return err
		}

		o.logDesync(ctx, ord.ID, sku, it.Quantity, "decrement failed after captured payment: "+err.Error())
	}
	return nil
}

// confirmAndCreate is the pay-first flow: verify everything against the
// gateway, then create the order directly in ORDER_CONFIRMED. Verification
// failures leave no order behind.
func (o *Orchestrator) confirmAndCreate(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	// The unique payment reference on the orders table is the idempotency
	// guard. The lookup must run before pricing: the first confirmation
	// consumed the cart lines, so a replayed callback would otherwise fail
	// validation instead of returning the confirmed order.
	existing, err := o.orders.FindByPaymentID(ctx, in.GatewayPaymentID)
	if err == nil {
		return &ConfirmResult{OrderID: existing.ID, Status: existing.Status}, nil
	}
	if !errors.Is(err, order.ErrNotFound) {
		return nil, errors.Wrap(err, "look up payment reference")
	}

	q, err := o.priceSelection(ctx, in.UserID, in.CartLineIDs, in.Address)
	if err != nil {
		return nil, err
	}

	if !o.signer.Verify(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		return nil, ErrSignatureInvalid
	}

	pay, err := o.gw.FetchPayment(ctx, in.GatewayPaymentID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch payment")
	}
	if pay.Status != gateway.StatusCaptured {
		return nil, &NotCapturedError{Status: pay.Status}
	}
	if pay.Amount != q.total {
		// Captured money with no matching order: alert, never confirm.
		o.pub.Publish(ctx, events.Event{
			Type:      events.TypePaymentOrphaned,
			UserID:    in.UserID,
			PaymentID: in.GatewayPaymentID,
			Amount:    pay.Amount,
			Detail:    map[string]string{"reason": "amount mismatch at verification"},
		})
		return nil, &AmountMismatchError{Expected: q.total, Actual: pay.Amount}
	}

	if err := o.precheckStock(ctx, q); err != nil {
		o.pub.Publish(ctx, events.Event{
			Type:      events.TypePaymentOrphaned,
			UserID:    in.UserID,
			PaymentID: in.GatewayPaymentID,
			Amount:    pay.Amount,
			Detail:    map[string]string{"reason": "stock unavailable at verification: " + err.Error()},
		})
		return nil, err
	}

	// Captured payment: run to completion regardless of caller cancellation.
	ctx = context.WithoutCancel(ctx)

	now := o.now()
	paidAt := now
	ord := &order.Order{
		ID:               o.newID(),
		UserID:           in.UserID,
		Status:           order.StatusOrderConfirmed,
		TotalAmount:      q.total,
		Currency:         o.currency,
		Address:          in.Address,
		GatewayOrderID:   in.GatewayOrderID,
		GatewayPaymentID: in.GatewayPaymentID,
		GatewaySignature: in.Signature,
		PaidAt:           &paidAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.orders.Create(ctx, ord, o.buildItems(ord.ID, q)); err != nil {
		if errors.Is(err, order.ErrDuplicatePayment) {
			// A concurrent retry of the same callback won the insert.
			if existing, ferr := o.orders.FindByPaymentID(ctx, in.GatewayPaymentID); ferr == nil {
				return &ConfirmResult{OrderID: existing.ID, Status: existing.Status}, nil
			}
		}
		return nil, errors.Wrap(err, "create confirmed order")
	}

	// Payment is already captured: per-item failures are logged and flagged,
	// never rolled back into a refund.
	for _, pl := range q.lines {
		if _, err := o.ledger.TryDecrement(ctx, pl.sku, pl.line.Quantity); err != nil {
			o.logDesync(ctx, ord.ID, pl.sku, pl.line.Quantity, "decrement failed after captured payment: "+err.Error())
		}
	}

	o.clearLines(ctx, q.lineIDs())
	o.pub.Publish(ctx, events.Event{
		Type:      events.TypeOrderConfirmed,
		OrderID:   ord.ID,
		UserID:    ord.UserID,
		PaymentID: in.GatewayPaymentID,
		Amount:    ord.TotalAmount,
		Currency:  ord.Currency,
	})
	return &ConfirmResult{OrderID: ord.ID, Status: ord.Status}, nil
}

// failPayment moves an order into PAYMENT_FAILED when verification uncovers
// an integrity problem. Orders already failed stay failed.
func (o *Orchestrator) failPayment(ctx context.Context, ord *order.Order) {
	if ord.Status == order.StatusPaymentFailed {
		return
	}
	if !order.CanTransition(ord.Status, order.StatusPaymentFailed) {
		return
	}
	if err := o.orders.TransitionStatus(ctx, ord.ID, ord.Status, order.StatusPaymentFailed); err != nil {
		zctx.From(ctx).Error("mark payment failed",
			zap.String("order_id", ord.ID),
			zap.String("from", string(ord.Status)),
			zap.Error(err),
		)
	}
}
