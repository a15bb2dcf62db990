package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopforge/fulfillment/internal/checkout"
	"github.com/shopforge/fulfillment/internal/gateway"
)

type checkoutRequest struct {
	// Mode selects the prepaid flow; defaults to PREPAID_DEFERRED. COD runs
	// through its own route.
	Mode        string      `json:"mode,omitempty"`
	CartLineIDs []string    `json:"cart_line_ids"`
	Address     addressJSON `json:"address"`
}

type intentJSON struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type checkoutResponse struct {
	OrderID string      `json:"order_id,omitempty"`
	Status  string      `json:"status,omitempty"`
	Intent  *intentJSON `json:"payment_intent,omitempty"`
}

func toIntentJSON(in *gateway.Intent) *intentJSON {
	if in == nil {
		return nil
	}
	return &intentJSON{
		ID:       in.ID,
		Amount:   in.Amount,
		Total:    displayAmount(in.Amount),
		Currency: in.Currency,
	}
}

// startCheckout begins a prepaid checkout for the authenticated buyer.
func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := checkout.PaymentMode(req.Mode)
	if req.Mode == "" {
		mode = checkout.ModePrepaidDeferred
	}
	if mode == checkout.ModeCOD {
		writeError(w, http.StatusBadRequest, "use the cash-on-delivery endpoint")
		return
	}

	res, err := h.orchestrator.StartCheckout(r.Context(), checkout.StartInput{
		UserID:      KeyFromContext(r.Context()).UserID,
		Mode:        mode,
		CartLineIDs: req.CartLineIDs,
		Address:     req.Address.domain(),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID: res.OrderID,
		Status:  string(res.Status),
		Intent:  toIntentJSON(res.Intent),
	})
}

// startCODCheckout runs the cash-on-delivery flow.
func (h *Handler) startCODCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.orchestrator.StartCheckout(r.Context(), checkout.StartInput{
		UserID:      KeyFromContext(r.Context()).UserID,
		Mode:        checkout.ModeCOD,
		CartLineIDs: req.CartLineIDs,
		Address:     req.Address.domain(),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID: res.OrderID,
		Status:  string(res.Status),
	})
}

type confirmRequest struct {
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`

	// Pay-first flow only: the selection the payment was taken for.
	CartLineIDs []string     `json:"cart_line_ids,omitempty"`
	Address     *addressJSON `json:"address,omitempty"`
}

type confirmResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// confirmPayment handles the pay-first flow: no order exists yet; one is
// created only after the payment verifies.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := checkout.ConfirmInput{
		UserID:           KeyFromContext(r.Context()).UserID,
		CartLineIDs:      req.CartLineIDs,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	}
	if req.Address != nil {
		in.Address = req.Address.domain()
	}

	res, err := h.orchestrator.ConfirmPayment(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{OrderID: res.OrderID, Status: string(res.Status)})
}

// confirmOrder verifies a payment against an existing pending order.
func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.orchestrator.ConfirmPayment(r.Context(), checkout.ConfirmInput{
		OrderID:          r.PathValue("id"),
		UserID:           KeyFromContext(r.Context()).UserID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{OrderID: res.OrderID, Status: string(res.Status)})
}
