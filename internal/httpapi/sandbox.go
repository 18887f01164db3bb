package httpapi

import (
	"errors"
	"net/http"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// Sandbox checkout pages stand in for the hosted gateway during development.
// Paying settles the sandbox checkout and reconciles it the way a webhook would.

type sandboxCheckoutView struct {
	GatewayRef    string          `json:"gateway_ref"`
	TransactionID string          `json:"payment_txn_id"`
	Outcome       payment.Outcome `json:"status"`
}

type sandboxPayRequest struct {
	Outcome payment.Outcome `json:"status" validate:"required,oneof=success failed"`
	Reason  string          `json:"reason" validate:"omitempty,max=200"`
}

func (h *Handler) handleSandboxCheckout(w http.ResponseWriter, r *http.Request) {
	ref := pathID(r, "ref")
	transactionID, result, ok := h.sandbox.Checkout(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "checkout not found")
		return
	}
	writeData(w, http.StatusOK, sandboxCheckoutView{GatewayRef: ref, TransactionID: transactionID, Outcome: result.Outcome})
}

func (h *Handler) handleSandboxPay(w http.ResponseWriter, r *http.Request) {
	ref := pathID(r, "ref")
	transactionID, result, ok := h.sandbox.Checkout(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "checkout not found")
		return
	}
	var req sandboxPayRequest
	if !decode(w, r, &req) {
		return
	}
	if result.Outcome.Terminal() {
		writeFailure(w, store.ErrInvalidState)
		return
	}
	h.sandbox.Settle(transactionID, req.Outcome, req.Reason)

	txn, invoice, err := h.manager.Reconcile(r.Context(), transactionID, lifecycle.ReconcileRequest{
		Success:    req.Outcome == payment.OutcomeSuccess,
		GatewayRef: ref,
		Reason:     req.Reason,
	})
	if err != nil && !errors.Is(err, store.ErrAlreadySettled) {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, webhookResponse{
		TransactionID: txn.TransactionID,
		Status:        txn.Status,
		InvoiceStatus: invoice.PaymentStatus,
	})
}
