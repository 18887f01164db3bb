package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type issueRequest struct {
	WorkOrderID string `json:"work_order_id" validate:"required,uuid"`
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	invoices, err := h.manager.ListInvoices(r.Context(), actor, store.InvoiceFilter{
		AccountID:  strings.TrimSpace(r.URL.Query().Get("account_id")),
		UnpaidOnly: queryBool(r, "unpaid"),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, invoices)
}

func (h *Handler) handleIssueInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !decode(w, r, &req) {
		return
	}
	invoice, err := h.manager.IssueInvoice(r.Context(), actor, req.WorkOrderID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, invoice)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, h.manager.GetInvoice)
}

func (h *Handler) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, h.manager.SendToCustomer)
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, h.manager.MarkPaidManually)
}

func (h *Handler) handleCustomerPaid(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, h.manager.CustomerConfirmPaid)
}

type invoiceFunc = func(ctx context.Context, actor auth.Actor, invoiceID string) (models.Invoice, error)

func (h *Handler) invoiceAction(w http.ResponseWriter, r *http.Request, fn invoiceFunc) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	invoice, err := fn(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, invoice)
}
