// Package handler exposes the checkout orchestrator over a JSON HTTP API.
// Handlers stay thin: decode, delegate, map errors. All business rules live
// in the checkout and domain packages.
package handler

import (
	"net/http"

	"github.com/shopforge/fulfillment/internal/checkout"
	"github.com/shopforge/fulfillment/internal/domain/auth"
	"github.com/shopforge/fulfillment/internal/domain/order"
)

// Handler serves the storefront fulfillment API.
type Handler struct {
	orchestrator *checkout.Orchestrator
	orders       order.Repository
	security     *Security
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orchestrator *checkout.Orchestrator, orders order.Repository, security *Security) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		orders:       orders,
		security:     security,
	}
}

// Routes returns the API route table. Authentication wraps every route;
// refunds and shipping transitions additionally require the admin scope.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	buyer := func(fn http.HandlerFunc) http.Handler {
		return h.security.Authenticate(h.security.RequireScope(auth.ScopeBuyer, fn))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return h.security.Authenticate(h.security.RequireScope(auth.ScopeAdmin, fn))
	}
	// Order reads are shared: getOrder scopes buyers to their own orders.
	anyRole := func(fn http.HandlerFunc) http.Handler {
		return h.security.Authenticate(h.security.RequireAnyScope([]string{auth.ScopeBuyer, auth.ScopeAdmin}, fn))
	}

	mux.Handle("POST /api/checkout", buyer(h.startCheckout))
	mux.Handle("POST /api/checkout/cod", buyer(h.startCODCheckout))
	mux.Handle("POST /api/payments/confirm", buyer(h.confirmPayment))
	mux.Handle("POST /api/orders/{id}/confirm", buyer(h.confirmOrder))
	mux.Handle("POST /api/orders/{id}/cancel", buyer(h.cancelOrder))
	mux.Handle("GET /api/orders", buyer(h.listOrders))
	mux.Handle("GET /api/orders/{id}", anyRole(h.getOrder))

	mux.Handle("POST /api/orders/{id}/status", admin(h.transitionStatus))
	mux.Handle("POST /api/orders/{id}/refund", admin(h.refundOrder))

	return mux
}
