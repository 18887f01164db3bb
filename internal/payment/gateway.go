// Package payment talks to the external payment gateway.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

type CheckoutRequest struct {
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
}

type Checkout struct {
	GatewayRef  string `json:"gateway_ref"`
	CheckoutURL string `json:"checkout_url"`
}

type Result struct {
	Outcome    Outcome `json:"status"`
	GatewayRef string  `json:"gateway_ref"`
	Reason     string  `json:"reason"`
}

// Gateway creates hosted checkouts and reports their outcome.
// Every error it returns wraps store.ErrGateway.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	Status(ctx context.Context, transactionID string) (Result, error)
}

// WebhookEvent is the body the gateway posts when a checkout settles.
type WebhookEvent struct {
	TransactionID string  `json:"transaction_id"`
	Status        Outcome `json:"status"`
	GatewayRef    string  `json:"gateway_ref"`
	Reason        string  `json:"reason"`
}

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, store.Invalid("body", "invalid webhook payload")
	}
	event.TransactionID = strings.TrimSpace(event.TransactionID)
	if event.TransactionID == "" {
		return WebhookEvent{}, store.Invalid("transaction_id", "required")
	}
	if !event.Status.Terminal() {
		return WebhookEvent{}, store.Invalid("status", "must be success or failed")
	}
	return event, nil
}

func gatewayError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrGateway, op, err)
}

// Ambiguous reports whether a gateway call ended without an answer. The
// gateway may still have acted on it.
func Ambiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
