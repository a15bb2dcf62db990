// Package catalog defines the read-side contract for products and variants,
// and the resolution of which stock counter a purchase deducts against.
package catalog

import (
	"context"
	"fmt"
)

// Sentinel errors for catalog lookups.
var (
	ErrProductNotFound = fmt.Errorf("product not found")
	ErrVariantNotFound = fmt.Errorf("variant not found")
	// ErrVariantRequired is returned when a variant-bearing product is
	// purchased without naming a variant.
	ErrVariantRequired = fmt.Errorf("variant required for this product")
)

// Product is the live catalog record pricing reads from at checkout time.
// UnitPrice and DiscountPercent are copied into order-item snapshots; the
// order never joins back here.
type Product struct {
	ID              string
	Name            string
	UnitPrice       int64
	DiscountPercent int64
	// HasVariants is the category flag deciding SKU resolution: variant
	// products carry stock on each variant, plain products on themselves.
	HasVariants bool
	Active      bool
}

// Variant is one sellable variation of a product (a size) with its own stock
// counter.
type Variant struct {
	ID        string
	ProductID string
	Size      string
	Active    bool
}

// Repository provides catalog lookups by id.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
}

// ResolveSKU returns the stock counter key for purchasing the given product,
// optionally a specific variant of it. Variant-bearing products must name a
// variant; plain products must not.
func ResolveSKU(p *Product, variantID string) (string, error) {
	if p.HasVariants {
		if variantID == "" {
			return "", ErrVariantRequired
		}
		return VariantSKU(variantID), nil
	}
	if variantID != "" {
		return "", fmt.Errorf("product %s does not have variants", p.ID)
	}
	return ProductSKU(p.ID), nil
}

// ProductSKU returns the counter key for a plain product.
func ProductSKU(productID string) string { return "p:" + productID }

// VariantSKU returns the counter key for a product variant.
func VariantSKU(variantID string) string { return "v:" + variantID }

// ItemSKU returns the counter key for a recorded order item, which already
// snapshotted whether it was sold per-variant.
func ItemSKU(productID, variantID string) string {
	if variantID != "" {
		return VariantSKU(variantID)
	}
	return ProductSKU(productID)
}
