package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const (
	reasonSuperseded     = "superseded"
	reasonAlreadySettled = "invoice already settled"
)

func (s *Store) IssueInvoice(ctx context.Context, input store.IssueInvoiceInput) (models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.workOrders[input.WorkOrderID]
	if !ok {
		return models.Invoice{}, store.ErrWorkOrderNotFound
	}
	if order.Status != models.WorkOrderCompleted {
		return models.Invoice{}, stateError("work order", order.Status)
	}
	for _, existing := range s.invoices {
		if existing.WorkOrderID == order.WorkOrderID {
			return models.Invoice{}, store.ErrInvoiceExists
		}
	}

	invoice := models.Invoice{
		InvoiceID:     uuid.NewString(),
		WorkOrderID:   order.WorkOrderID,
		AccountID:     order.AccountID,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: models.PaymentUnpaid,
		IssuedBy:      input.StaffID,
		CreatedAt:     input.OccurredAt,
	}
	s.invoices[invoice.InvoiceID] = invoice
	s.record(invoice.InvoiceID, store.EventInvoiceIssued, invoice, input.OccurredAt)
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invoices []models.Invoice
	for _, invoice := range s.invoices {
		if filter.AccountID != "" && invoice.AccountID != filter.AccountID {
			continue
		}
		if filter.UnpaidOnly && invoice.PaymentStatus != models.PaymentUnpaid {
			continue
		}
		invoices = append(invoices, invoice)
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].CreatedAt.After(invoices[j].CreatedAt) })
	return invoices, nil
}

func (s *Store) MarkInvoiceSent(ctx context.Context, invoiceID string, sentAt time.Time) (models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	invoice.SentToCustomerAt = &sentAt
	s.invoices[invoiceID] = invoice
	s.record(invoice.InvoiceID, store.EventInvoiceSent, invoice, sentAt)
	return invoice, nil
}

func (s *Store) SettleInvoice(ctx context.Context, input store.SettleInvoiceInput) (models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[input.InvoiceID]
	if !ok {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	if _, settled := s.settlements[invoice.InvoiceID]; settled || invoice.PaymentStatus != models.PaymentUnpaid {
		return models.Invoice{}, store.ErrAlreadySettled
	}
	invoice = s.settle(invoice, input.Via, "", input.OccurredAt)
	return invoice, nil
}

func (s *Store) CreatePayment(ctx context.Context, input store.CreatePaymentInput) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[input.InvoiceID]
	if !ok {
		return models.PaymentTransaction{}, store.ErrInvoiceNotFound
	}
	if invoice.PaymentStatus != models.PaymentUnpaid {
		return models.PaymentTransaction{}, store.ErrAlreadySettled
	}
	txn := models.PaymentTransaction{
		TransactionID: uuid.NewString(),
		InvoiceID:     invoice.InvoiceID,
		Amount:        input.Amount,
		Method:        input.Method,
		Status:        models.TransactionPending,
		CreatedAt:     input.OccurredAt,
		UpdatedAt:     input.OccurredAt,
	}
	s.payments[txn.TransactionID] = txn
	s.record(txn.TransactionID, store.EventPaymentCreated, txn, input.OccurredAt)
	return txn, nil
}

func (s *Store) AttachCheckout(ctx context.Context, input store.AttachCheckoutInput) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.payments[input.TransactionID]
	if !ok {
		return models.PaymentTransaction{}, store.ErrTransactionNotFound
	}
	txn.GatewayRef = input.GatewayRef
	txn.CheckoutURL = input.CheckoutURL
	s.payments[txn.TransactionID] = txn
	return txn, nil
}

func (s *Store) GetPayment(ctx context.Context, transactionID string) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.payments[transactionID]
	if !ok {
		return models.PaymentTransaction{}, store.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Store) ReconcilePayment(ctx context.Context, input store.ReconcileInput) (models.PaymentTransaction, models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.payments[input.TransactionID]
	if !ok {
		return models.PaymentTransaction{}, models.Invoice{}, store.ErrTransactionNotFound
	}
	if txn.Status != models.TransactionPending {
		return models.PaymentTransaction{}, models.Invoice{}, stateError("payment transaction", txn.Status)
	}
	invoice, ok := s.invoices[txn.InvoiceID]
	if !ok {
		return models.PaymentTransaction{}, models.Invoice{}, store.ErrInvoiceNotFound
	}
	at := input.OccurredAt
	if input.GatewayRef != "" {
		txn.GatewayRef = input.GatewayRef
	}

	if !input.Success {
		txn = s.failPayment(txn, input.Reason, at)
		return txn, invoice, nil
	}

	if _, settled := s.settlements[invoice.InvoiceID]; settled || invoice.PaymentStatus != models.PaymentUnpaid {
		txn = s.failPayment(txn, reasonAlreadySettled, at)
		return txn, invoice, store.ErrAlreadySettled
	}

	txn.Status = models.TransactionSuccess
	txn.UpdatedAt = at
	s.payments[txn.TransactionID] = txn
	s.record(txn.TransactionID, store.EventPaymentSucceeded, txn, at)
	invoice = s.settle(invoice, models.SettledViaGateway, txn.TransactionID, at)
	return txn, invoice, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var pending []models.PaymentTransaction
	for _, txn := range s.payments {
		if txn.Status == models.TransactionPending && txn.CreatedAt.Before(createdBefore) {
			pending = append(pending, txn)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// settle marks the invoice paid and supersedes every other pending attempt.
// Callers hold s.mu and have checked the invoice is unpaid.
func (s *Store) settle(invoice models.Invoice, via models.SettlementVia, keepTxn string, at time.Time) models.Invoice {
	s.settlements[invoice.InvoiceID] = via
	invoice.PaymentStatus = models.PaymentPaid
	invoice.SettledVia = &via
	invoice.CustomerPaidAt = &at
	s.invoices[invoice.InvoiceID] = invoice
	s.record(invoice.InvoiceID, store.EventInvoicePaid, invoice, at)

	for _, txn := range s.payments {
		if txn.InvoiceID != invoice.InvoiceID || txn.TransactionID == keepTxn || txn.Status != models.TransactionPending {
			continue
		}
		s.failPayment(txn, reasonSuperseded, at)
	}
	return invoice
}

func (s *Store) failPayment(txn models.PaymentTransaction, reason string, at time.Time) models.PaymentTransaction {
	txn.Status = models.TransactionFailed
	txn.FailureReason = reason
	txn.UpdatedAt = at
	s.payments[txn.TransactionID] = txn
	s.record(txn.TransactionID, store.EventPaymentFailed, txn, at)
	return txn
}
