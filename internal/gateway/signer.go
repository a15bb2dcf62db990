package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer reproduces the gateway's documented payment signing scheme:
// HMAC-SHA256 over "<gatewayOrderID>|<gatewayPaymentID>", keyed by the shared
// secret, hex encoded. Verification is computed locally; a client-asserted
// boolean is never trusted.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the shared gateway secret.
func NewSigner(secret []byte) Signer {
	return Signer{secret: secret}
}

// Sign computes the expected signature for an order/payment pair.
func (s Signer) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(gatewayOrderID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented signature in constant time.
func (s Signer) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := s.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
