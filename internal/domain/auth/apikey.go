// Package auth defines API key identity and the lookup contract used to
// authenticate storefront requests.
package auth

import "context"

// Scopes granted to API keys. Buyer keys act on behalf of one user; admin
// keys drive back-office operations (refunds, shipping transitions).
const (
	ScopeBuyer = "buyer"
	ScopeAdmin = "admin"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	// UserID is the storefront user a buyer key acts for. Empty for
	// admin-only keys.
	UserID string
	Scopes []string
}

// HasScope reports whether the key carries the given scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
