package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/events"
)

// RefundResult reports the outcome of a refund.
type RefundResult struct {
	RefundID string
	Status   order.Status
	// StockRestored mirrors the order's idempotency flag after this call.
	StockRestored bool
	// ManualCorrection is set when stock restoration failed partway; the
	// gateway refund stands, but an operator must fix inventory by hand.
	ManualCorrection bool
}

// RefundOrder refunds the full captured amount and restores inventory.
//
// The gateway call always runs first: it cannot be rolled back, so the design
// never trades the customer's refund for stock consistency. Stock is restored
// at most once across retries, guarded by the order's StockRestored flag; a
// retry after successful restoration only re-attempts the gateway refund.
// After a partial restoration failure the flag stays false, so a retry
// restarts from the first item and re-increments the prefix that already
// succeeded. Operators correcting stock by hand must account for retried
// refunds via the desync events before writing counters.
func (o *Orchestrator) RefundOrder(ctx context.Context, orderID, reason string) (*RefundResult, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// REFUNDED is accepted again so interrupted refunds can be re-driven.
	if !order.Refundable(ord.Status) && ord.Status != order.StatusRefunded {
		return nil, &order.InvalidTransitionError{From: ord.Status, To: order.StatusRefunded}
	}
	if ord.GatewayPaymentID == "" {
		return nil, ErrRefundUnavailable
	}

	notes := map[string]string{"order_id": ord.ID}
	if reason != "" {
		notes["reason"] = reason
	}
	ref, err := o.gw.Refund(ctx, ord.GatewayPaymentID, ord.TotalAmount, notes)
	if err != nil {
		return nil, errors.Wrapf(err, "refund order %s", ord.ID)
	}

	// Refund is issued; finish bookkeeping even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	restoredNow := false
	manual := false
	if !ord.StockRestored {
		items, err := o.orders.Items(ctx, ord.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load items for order %s", ord.ID)
		}
		restoredNow = true
		for _, it := range items {
			sku := catalog.ItemSKU(it.ProductID, it.VariantID)
			if _, err := o.ledger.TryIncrement(ctx, sku, it.Quantity); err != nil {
				o.logDesync(ctx, ord.ID, sku, it.Quantity, "refund restock failed: "+err.Error())
				restoredNow = false
				manual = true
				break
			}
		}
	}

	stockRestored := ord.StockRestored || restoredNow
	refundedAt := o.now()
	if err := o.orders.MarkRefunded(ctx, ord.ID, ref.ID, refundedAt, stockRestored); err != nil {
		return nil, errors.Wrapf(err, "mark order %s refunded", ord.ID)
	}

	o.pub.Publish(ctx, events.Event{
		Type:      events.TypeOrderRefunded,
		OrderID:   ord.ID,
		UserID:    ord.UserID,
		PaymentID: ord.GatewayPaymentID,
		Amount:    ord.TotalAmount,
		Currency:  ord.Currency,
		Detail:    map[string]string{"refund_id": ref.ID},
	})

	return &RefundResult{
		RefundID:         ref.ID,
		Status:           order.StatusRefunded,
		StockRestored:    stockRestored,
		ManualCorrection: manual,
	}, nil
}
