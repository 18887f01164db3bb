package httpapi

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const maxWebhookBytes = 64 << 10

type checkoutRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Method    string `json:"method" validate:"omitempty,max=30"`
}

type webhookResponse struct {
	TransactionID string                   `json:"payment_txn_id"`
	Status        models.TransactionStatus `json:"status"`
	InvoiceStatus models.PaymentStatus     `json:"invoice_status,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.manager.InitiatePayment(r.Context(), actor, req.InvoiceID, req.Amount, req.Method)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	view, err := h.manager.PaymentStatus(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// handlePaymentWebhook applies a signed gateway callback. A callback for an
// invoice that was settled some other way is acknowledged so the gateway stops retrying.
func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}
	if !payment.VerifySignature(h.webhookSecret, body, r.Header.Get(payment.SignatureHeader)) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	event, err := payment.ParseWebhook(body)
	if err != nil {
		writeFailure(w, err)
		return
	}

	txn, invoice, err := h.manager.Reconcile(r.Context(), event.TransactionID, lifecycle.ReconcileRequest{
		Success:    event.Status == payment.OutcomeSuccess,
		GatewayRef: event.GatewayRef,
		Reason:     event.Reason,
	})
	if errors.Is(err, store.ErrAlreadySettled) {
		h.logger.Warn("gateway settled an already paid invoice",
			zap.String("payment_txn_id", txn.TransactionID),
			zap.String("invoice_id", invoice.InvoiceID),
		)
		err = nil
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, webhookResponse{
		TransactionID: txn.TransactionID,
		Status:        txn.Status,
		InvoiceStatus: invoice.PaymentStatus,
	})
}
