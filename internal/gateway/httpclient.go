package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// HTTPClient talks to the gateway's REST API using key-id/secret basic auth.
type HTTPClient struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a gateway client. An empty timeout defaults to 10s.
func NewHTTPClient(baseURL, keyID, secret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateIntent implements Client.
func (c *HTTPClient) CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*Intent, error) {
	var resp intentResponse
	err := c.do(ctx, http.MethodPost, "/v1/orders", intentRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &Intent{ID: resp.ID, Amount: resp.Amount, Currency: resp.Currency}, nil
}

type paymentResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// FetchPayment implements Client.
func (c *HTTPClient) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var resp paymentResponse
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &Payment{ID: resp.ID, Amount: resp.Amount, Status: resp.Status}, nil
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Refund implements Client.
func (c *HTTPClient) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error) {
	var resp refundResponse
	err := c.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", refundRequest{
		Amount: amount,
		Notes:  notes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &Refund{ID: resp.ID, Amount: resp.Amount, Status: resp.Status}, nil
}

type gatewayErrorBody struct {
	Error struct {
		Description string `json:"description"`
	} `json:"error"`
}

// do sends one request and decodes the response. Transport-level failures map
// to ErrUnavailable, 404 to ErrPaymentNotFound, and other non-2xx statuses to
// *Error with the gateway's description.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.keyID, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPaymentNotFound
	case resp.StatusCode >= 500:
		return errors.Wrapf(ErrUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 300:
		var body gatewayErrorBody
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Description != "" {
			msg = body.Error.Description
		}
		return &Error{Op: method + " " + path, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
