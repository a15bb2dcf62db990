package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/events"
)

// CancelPendingOrder cancels an order that has not completed payment. Stock
// was never committed for pending orders, so there is nothing to restore.
func (o *Orchestrator) CancelPendingOrder(ctx context.Context, orderID, userID string) error {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if userID != "" && ord.UserID != userID {
		return order.ErrNotFound
	}
	if ord.Status == order.StatusCancelled {
		return nil
	}
	if err := order.Transition(ord.Status, order.StatusCancelled); err != nil {
		return err
	}
	if err := o.orders.TransitionStatus(ctx, ord.ID, ord.Status, order.StatusCancelled); err != nil {
		return errors.Wrapf(err, "cancel order %s", ord.ID)
	}

	o.pub.Publish(ctx, events.Event{
		Type:    events.TypeOrderCancelled,
		OrderID: ord.ID,
		UserID:  ord.UserID,
	})
	return nil
}

// TransitionShippingStatus moves a confirmed order along the shipping leg.
// Only ORDER_CONFIRMED -> SHIPPED and SHIPPED -> DELIVERED are reachable
// here; everything else is an InvalidTransitionError.
func (o *Orchestrator) TransitionShippingStatus(ctx context.Context, orderID string, to order.Status) error {
	if to != order.StatusShipped && to != order.StatusDelivered {
		return &ValidationError{Msg: "shipping status must be SHIPPED or DELIVERED"}
	}

	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := order.Transition(ord.Status, to); err != nil {
		return err
	}
	if err := o.orders.TransitionStatus(ctx, ord.ID, ord.Status, to); err != nil {
		return errors.Wrapf(err, "transition order %s to %s", ord.ID, to)
	}
	return nil
}
