// Package cart defines the cart-line collaborator the checkout core reads
// selections from. Only ids and quantities are trusted; prices are always
// re-derived from the catalog at pricing time.
package cart

import (
	"context"
	"fmt"
)

// ErrLineNotFound indicates a selected cart line does not exist (or was
// already checked out).
var ErrLineNotFound = fmt.Errorf("cart line not found")

// Line is one cart entry.
type Line struct {
	ID        string
	UserID    string
	ProductID string
	VariantID string
	Quantity  int
}

// Repository provides cart-line lookup and removal by id.
type Repository interface {
	// GetByIDs returns the lines for the given ids. Implementations return
	// ErrLineNotFound when any id is missing.
	GetByIDs(ctx context.Context, ids []string) ([]Line, error)
	// Delete removes the given lines. Deleting an already-removed line is
	// not an error, so confirmation paths can be re-driven.
	Delete(ctx context.Context, ids []string) error
	// DeleteByProduct removes a user's lines matching the product/variant
	// pair. Used when clearing a cart from order-item snapshots.
	DeleteByProduct(ctx context.Context, userID, productID, variantID string) error
}
