package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/domain/cart"
	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/domain/pricing"
	"github.com/shopforge/fulfillment/internal/events"
)

// pricedLine pairs a cart line with its resolved catalog state and computed
// prices. Everything monetary here becomes an immutable order-item snapshot.
type pricedLine struct {
	line    cart.Line
	product *catalog.Product
	variant *catalog.Variant
	sku     string

	unitPrice       int64
	discountPercent int64
	discountedUnit  int64
	lineTotal       int64
}

// quote is a fully priced cart selection.
type quote struct {
	lines    []pricedLine
	subtotal int64
	shipping int64
	total    int64
}

// priceSelection loads the selected cart lines, re-derives prices from the
// live catalog (client-supplied prices are never trusted), and computes the
// order total including shipping.
func (o *Orchestrator) priceSelection(ctx context.Context, userID string, lineIDs []string, addr order.Address) (*quote, error) {
	if len(lineIDs) == 0 {
		return nil, &ValidationError{Msg: "no cart lines selected"}
	}

	lines, err := o.cart.GetByIDs(ctx, lineIDs)
	if err != nil {
		return nil, err
	}

	q := &quote{lines: make([]pricedLine, 0, len(lines))}
	for _, line := range lines {
		if line.UserID != userID {
			// Don't leak other users' cart contents.
			return nil, cart.ErrLineNotFound
		}
		if line.Quantity <= 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid quantity %d for cart line %s", line.Quantity, line.ID)}
		}

		p, err := o.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, errors.Wrapf(err, "price cart line %s", line.ID)
		}
		if !p.Active {
			return nil, &ValidationError{Msg: fmt.Sprintf("product %s is no longer available", p.ID)}
		}

		var variant *catalog.Variant
		if line.VariantID != "" {
			variant, err = o.catalog.GetVariant(ctx, line.VariantID)
			if err != nil {
				return nil, errors.Wrapf(err, "price cart line %s", line.ID)
			}
			if variant.ProductID != p.ID {
				return nil, &ValidationError{Msg: fmt.Sprintf("variant %s does not belong to product %s", variant.ID, p.ID)}
			}
			if !variant.Active {
				return nil, &ValidationError{Msg: fmt.Sprintf("variant %s is no longer available", variant.ID)}
			}
		}

		sku, err := catalog.ResolveSKU(p, line.VariantID)
		if err != nil {
			return nil, &ValidationError{Msg: err.Error()}
		}

		discount := pricing.ClampDiscount(p.DiscountPercent)
		discounted := pricing.DiscountedUnitPrice(p.UnitPrice, discount)
		lineTotal := pricing.LineTotal(discounted, line.Quantity)

		q.lines = append(q.lines, pricedLine{
			line:            line,
			product:         p,
			variant:         variant,
			sku:             sku,
			unitPrice:       p.UnitPrice,
			discountPercent: discount,
			discountedUnit:  discounted,
			lineTotal:       lineTotal,
		})
		q.subtotal += lineTotal
	}

	q.shipping = pricing.ShippingFee(q.subtotal, addr.Country)
	q.total = q.subtotal + q.shipping
	return q, nil
}

// precheckStock verifies availability for every line without mutating
// anything, so validation failures carry no side effects.
func (o *Orchestrator) precheckStock(ctx context.Context, q *quote) error {
	for _, pl := range q.lines {
		stock, err := o.ledger.Stock(ctx, pl.sku)
		if err != nil {
			return errors.Wrapf(err, "stock pre-check %s", pl.sku)
		}
		if stock < int64(pl.line.Quantity) {
			return &inventory.InsufficientStockError{
				SKU:       pl.sku,
				Requested: pl.line.Quantity,
				Available: stock,
			}
		}
	}
	return nil
}

// buildItems materializes the order-item snapshots for a priced quote.
func (o *Orchestrator) buildItems(orderID string, q *quote) []order.Item {
	items := make([]order.Item, 0, len(q.lines))
	for _, pl := range q.lines {
		size := ""
		if pl.variant != nil {
			size = pl.variant.Size
		}
		items = append(items, order.Item{
			ID:              o.newID(),
			OrderID:         orderID,
			ProductID:       pl.product.ID,
			VariantID:       pl.line.VariantID,
			Name:            pl.product.Name,
			Size:            size,
			UnitPrice:       pl.unitPrice,
			DiscountPercent: pl.discountPercent,
			FinalPrice:      pl.lineTotal,
			Quantity:        pl.line.Quantity,
		})
	}
	return items
}

// lineIDs returns the cart line ids in a quote.
func (q *quote) lineIDs() []string {
	ids := make([]string, len(q.lines))
	for i, pl := range q.lines {
		ids[i] = pl.line.ID
	}
	return ids
}

// logDesync records an inventory discrepancy for operator attention: a log
// line with full context plus a reconciliation event.
func (o *Orchestrator) logDesync(ctx context.Context, orderID, sku string, quantity int, reason string) {
	zctx.From(ctx).Error("inventory desync, manual reconciliation required",
		zap.String("order_id", orderID),
		zap.String("sku", sku),
		zap.Int("quantity", quantity),
		zap.String("reason", reason),
	)
	o.pub.Publish(ctx, events.Event{
		Type:    events.TypeStockDesync,
		OrderID: orderID,
		Detail: map[string]string{
			"sku":      sku,
			"quantity": fmt.Sprintf("%d", quantity),
			"reason":   reason,
		},
	})
}
