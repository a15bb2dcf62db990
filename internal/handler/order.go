package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopforge/fulfillment/internal/domain/auth"
	"github.com/shopforge/fulfillment/internal/domain/order"
)

// getOrder returns one order with its item snapshots. Buyers only see their
// own orders; admin keys see everything.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info := KeyFromContext(r.Context())

	ord, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !info.HasScope(auth.ScopeAdmin) && ord.UserID != info.UserID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	items, err := h.orders.Items(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(ord, items))
}

// listOrders returns the authenticated buyer's orders, newest first.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	info := KeyFromContext(r.Context())

	orders, err := h.orders.ListByUser(r.Context(), info.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]orderJSON, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderJSON(&orders[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelOrder cancels a not-yet-paid order.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	info := KeyFromContext(r.Context())

	err := h.orchestrator.CancelPendingOrder(r.Context(), r.PathValue("id"), info.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		OrderID: r.PathValue("id"),
		Status:  string(order.StatusCancelled),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// transitionStatus moves a confirmed order along the shipping leg. Admin only.
func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := h.orchestrator.TransitionShippingStatus(r.Context(), id, order.Status(req.Status)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{OrderID: id, Status: req.Status})
}

type refundRequest struct {
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	OrderID          string `json:"order_id"`
	RefundID         string `json:"refund_id"`
	Status           string `json:"status"`
	StockRestored    bool   `json:"stock_restored"`
	ManualCorrection bool   `json:"manual_correction"`
}

// refundOrder refunds the full captured amount and restores stock. Admin only.
func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	id := r.PathValue("id")
	res, err := h.orchestrator.RefundOrder(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{
		OrderID:          id,
		RefundID:         res.RefundID,
		Status:           string(res.Status),
		StockRestored:    res.StockRestored,
		ManualCorrection: res.ManualCorrection,
	})
}
