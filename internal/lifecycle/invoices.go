package lifecycle

import (
	"context"
	"fmt"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// IssueInvoice snapshots the total of a completed work order. A work order
// gets at most one invoice.
func (m *Manager) IssueInvoice(ctx context.Context, actor auth.Actor, workOrderID string) (invoice models.Invoice, err error) {
	defer func() { m.observe("invoice", "issue", err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.Invoice{}, err
	}
	order, err := m.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return models.Invoice{}, err
	}
	subject := policy.Subject{Kind: policy.KindInvoice, OwnerID: order.AccountID}
	if err := m.authorize(actor, subject, policy.StateNone, string(models.PaymentUnpaid)); err != nil {
		return models.Invoice{}, err
	}
	if order.Status != models.WorkOrderCompleted {
		return models.Invoice{}, fmt.Errorf("work order is %s: %w", order.Status, store.ErrInvalidState)
	}

	invoice, err = m.store.IssueInvoice(ctx, store.IssueInvoiceInput{
		WorkOrderID: workOrderID,
		StaffID:     actor.AccountID,
		OccurredAt:  m.now(),
	})
	if err != nil {
		return models.Invoice{}, err
	}
	m.publish(store.EventInvoiceIssued, invoice.InvoiceID, invoice.AccountID, "", invoice)
	return invoice, nil
}

// SendToCustomer stamps the send time. Repeating it is harmless.
func (m *Manager) SendToCustomer(ctx context.Context, actor auth.Actor, invoiceID string) (invoice models.Invoice, err error) {
	defer func() { m.observe("invoice", "send", err) }()

	current, err := m.loadInvoice(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	subject := policy.Subject{Kind: policy.KindInvoice, OwnerID: current.AccountID}
	if err := m.authorize(actor, subject, string(models.PaymentUnpaid), string(models.PaymentUnpaid)); err != nil {
		return models.Invoice{}, err
	}
	invoice, err = m.store.MarkInvoiceSent(ctx, current.InvoiceID, m.now())
	if err != nil {
		return models.Invoice{}, err
	}
	m.publish(store.EventInvoiceSent, invoice.InvoiceID, invoice.AccountID, "", invoice)
	return invoice, nil
}

// MarkPaidManually records an out-of-band payment taken by staff.
func (m *Manager) MarkPaidManually(ctx context.Context, actor auth.Actor, invoiceID string) (models.Invoice, error) {
	if err := m.requireStaff(actor); err != nil {
		m.observe("invoice", "mark_paid", err)
		return models.Invoice{}, err
	}
	return m.settleInvoice(ctx, actor, invoiceID, models.SettledViaStaffManual)
}

// CustomerConfirmPaid lets the invoice owner report payment. It settles the
// invoice exactly like a staff mark.
func (m *Manager) CustomerConfirmPaid(ctx context.Context, actor auth.Actor, invoiceID string) (models.Invoice, error) {
	if actor.Role != models.RoleCustomer {
		err := fmt.Errorf("%s may not self-report payment: %w", actor.Role, store.ErrForbidden)
		m.observe("invoice", "customer_paid", err)
		return models.Invoice{}, err
	}
	return m.settleInvoice(ctx, actor, invoiceID, models.SettledViaCustomerConfirmed)
}

func (m *Manager) settleInvoice(ctx context.Context, actor auth.Actor, invoiceID string, via models.SettlementVia) (invoice models.Invoice, err error) {
	defer func() {
		m.observe("invoice", string(via), err)
		m.metrics.payments.WithLabelValues(string(via), outcomeOf(err)).Inc()
	}()

	current, err := m.loadInvoice(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	subject := policy.Subject{Kind: policy.KindInvoice, OwnerID: current.AccountID}
	if err := m.authorize(actor, subject, string(models.PaymentUnpaid), string(models.PaymentPaid)); err != nil {
		return models.Invoice{}, err
	}
	if current.PaymentStatus != models.PaymentUnpaid {
		return models.Invoice{}, store.ErrAlreadySettled
	}

	invoice, err = m.store.SettleInvoice(ctx, store.SettleInvoiceInput{
		InvoiceID:  current.InvoiceID,
		ActorID:    actor.AccountID,
		Via:        via,
		OccurredAt: m.now(),
	})
	if err != nil {
		return models.Invoice{}, err
	}
	m.publish(store.EventInvoicePaid, invoice.InvoiceID, invoice.AccountID, "", invoice)
	return invoice, nil
}

func (m *Manager) GetInvoice(ctx context.Context, actor auth.Actor, invoiceID string) (models.Invoice, error) {
	invoice, err := m.loadInvoice(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	if actor.Role.IsStaff() || invoice.AccountID == actor.AccountID {
		return invoice, nil
	}
	return models.Invoice{}, fmt.Errorf("invoice not visible: %w", store.ErrForbidden)
}

func (m *Manager) ListInvoices(ctx context.Context, actor auth.Actor, filter store.InvoiceFilter) ([]models.Invoice, error) {
	switch {
	case actor.Role == models.RoleCustomer:
		filter.AccountID = actor.AccountID
	case actor.Role.IsStaff():
	default:
		return nil, fmt.Errorf("%s may not list invoices: %w", actor.Role, store.ErrForbidden)
	}
	return m.store.ListInvoices(ctx, filter)
}

func (m *Manager) loadInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	invoiceID, err := requireID("invoice_id", invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	return m.store.GetInvoice(ctx, invoiceID)
}
