package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/checkout"
	"github.com/shopforge/fulfillment/internal/domain/cart"
	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/domain/inventory"
	"github.com/shopforge/fulfillment/internal/domain/order"
	"github.com/shopforge/fulfillment/internal/gateway"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeDomainError maps domain failures onto the client taxonomy. Validation
// and not-found problems carry their own message; gateway and contention
// failures get a generic retriable message so internals never leak.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *checkout.ValidationError
		ise *inventory.InsufficientStockError
		ame *checkout.AmountMismatchError
		nce *checkout.NotCapturedError
		ite *order.InvalidTransitionError
		gwe *gateway.Error
	)

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, cart.ErrLineNotFound):
		writeError(w, http.StatusBadRequest, "cart line not found")
	case errors.Is(err, catalog.ErrProductNotFound):
		writeError(w, http.StatusUnprocessableEntity, catalog.ErrProductNotFound.Error())
	case errors.Is(err, catalog.ErrVariantNotFound):
		writeError(w, http.StatusUnprocessableEntity, catalog.ErrVariantNotFound.Error())
	case errors.Is(err, catalog.ErrVariantRequired):
		writeError(w, http.StatusUnprocessableEntity, catalog.ErrVariantRequired.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &ise):
		writeError(w, http.StatusConflict, ise.Error())
	case errors.As(err, &ite):
		writeError(w, http.StatusConflict, ite.Error())
	case errors.Is(err, order.ErrStale):
		writeError(w, http.StatusConflict, "order was modified concurrently, retry")
	case errors.Is(err, checkout.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, "payment verification failed")
	case errors.As(err, &ame), errors.As(err, &nce):
		// Money may have moved; never expose gateway internals, point the
		// buyer at support instead.
		writeError(w, http.StatusUnprocessableEntity, "payment could not be verified, contact support")
	case errors.Is(err, checkout.ErrRefundUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "order has no refundable payment")
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrPaymentNotFound):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, try again")
	case errors.Is(err, inventory.ErrConcurrencyExhausted):
		writeError(w, http.StatusServiceUnavailable, "high demand on selected items, try again")
	case errors.As(err, &gwe):
		zctx.From(r.Context()).Error("gateway rejected request", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment provider rejected the request")
	default:
		zctx.From(r.Context()).Error("unhandled request error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// displayAmount renders integer minor units as a fixed two-decimal string
// for responses. Core arithmetic never touches decimals.
func displayAmount(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-2).StringFixed(2)
}

type addressJSON struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a addressJSON) domain() order.Address {
	return order.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type orderItemJSON struct {
	ProductID       string `json:"product_id"`
	VariantID       string `json:"variant_id,omitempty"`
	Name            string `json:"name"`
	Size            string `json:"size,omitempty"`
	UnitPrice       string `json:"unit_price"`
	DiscountPercent int64  `json:"discount_percent"`
	FinalPrice      string `json:"final_price"`
	Quantity        int    `json:"quantity"`
}

type orderJSON struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	TotalAmount int64           `json:"total_amount"`
	Total       string          `json:"total"`
	Currency    string          `json:"currency"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	RefundID    string          `json:"refund_id,omitempty"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []orderItemJSON `json:"items,omitempty"`
}

func toOrderJSON(o *order.Order, items []order.Item) orderJSON {
	resp := orderJSON{
		ID:          o.ID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Total:       displayAmount(o.TotalAmount),
		Currency:    o.Currency,
		PaidAt:      o.PaidAt,
		RefundID:    o.RefundID,
		RefundedAt:  o.RefundedAt,
		CreatedAt:   o.CreatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemJSON{
			ProductID:       it.ProductID,
			VariantID:       it.VariantID,
			Name:            it.Name,
			Size:            it.Size,
			UnitPrice:       displayAmount(it.UnitPrice),
			DiscountPercent: it.DiscountPercent,
			FinalPrice:      displayAmount(it.FinalPrice),
			Quantity:        it.Quantity,
		})
	}
	return resp
}
