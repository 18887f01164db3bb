package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const defaultPaymentMethod = "gateway"

type ReconcileRequest struct {
	Success    bool
	GatewayRef string
	Reason     string
}

type PaymentView struct {
	TransactionID string                   `json:"payment_txn_id"`
	InvoiceID     string                   `json:"invoice_id"`
	Amount        int64                    `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
	CheckoutURL   string                   `json:"checkout_url,omitempty"`
	FailureReason string                   `json:"failure_reason,omitempty"`
}

func viewOf(txn models.PaymentTransaction) PaymentView {
	return PaymentView{
		TransactionID: txn.TransactionID,
		InvoiceID:     txn.InvoiceID,
		Amount:        txn.Amount,
		Status:        txn.Status,
		CheckoutURL:   txn.CheckoutURL,
		FailureReason: txn.FailureReason,
	}
}

// InitiatePayment opens a pending transaction for the full invoice amount and
// asks the gateway for a checkout. A rejected checkout fails the transaction;
// one that times out stays pending for the status poll and the sweep.
func (m *Manager) InitiatePayment(ctx context.Context, actor auth.Actor, invoiceID string, amount int64, method string) (view PaymentView, err error) {
	defer func() { m.observe("payment", "initiate", err) }()

	invoice, err := m.loadInvoice(ctx, invoiceID)
	if err != nil {
		return PaymentView{}, err
	}
	subject := policy.Subject{Kind: policy.KindPayment, OwnerID: invoice.AccountID}
	if err := m.authorize(actor, subject, policy.StateNone, string(models.TransactionPending)); err != nil {
		return PaymentView{}, err
	}
	if invoice.PaymentStatus != models.PaymentUnpaid {
		return PaymentView{}, store.ErrAlreadySettled
	}
	if amount != invoice.TotalAmount {
		return PaymentView{}, store.Invalid("amount", "must equal the invoice total")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = defaultPaymentMethod
	}
	if len(method) > 32 {
		return PaymentView{}, store.Invalid("method", "too long")
	}
	if m.gateway == nil {
		return PaymentView{}, fmt.Errorf("%w: no gateway configured", store.ErrGateway)
	}

	txn, err := m.store.CreatePayment(ctx, store.CreatePaymentInput{
		InvoiceID:  invoice.InvoiceID,
		ActorID:    actor.AccountID,
		Amount:     amount,
		Method:     method,
		OccurredAt: m.now(),
	})
	if err != nil {
		return PaymentView{}, err
	}

	callCtx, cancel := m.withTimeout(ctx)
	started := time.Now()
	checkout, gwErr := m.gateway.CreateCheckout(callCtx, payment.CheckoutRequest{
		TransactionID: txn.TransactionID,
		InvoiceID:     invoice.InvoiceID,
		Amount:        amount,
		Method:        method,
	})
	timedOut := callCtx.Err() != nil
	cancel()
	m.metrics.gatewayTime.Observe(time.Since(started).Seconds())

	if gwErr != nil {
		ambiguous := timedOut || payment.Ambiguous(gwErr)
		if !errors.Is(gwErr, store.ErrGateway) {
			gwErr = fmt.Errorf("%w: %w", store.ErrGateway, gwErr)
		}
		if ambiguous {
			m.logger.Warn("checkout outcome unknown, leaving payment pending",
				zap.String("transaction_id", txn.TransactionID), zap.Error(gwErr))
			return PaymentView{}, gwErr
		}
		failed, _, err := m.store.ReconcilePayment(context.WithoutCancel(ctx), store.ReconcileInput{
			TransactionID: txn.TransactionID,
			Success:       false,
			Reason:        "checkout failed",
			OccurredAt:    m.now(),
		})
		if err != nil {
			m.logger.Error("fail payment after gateway error", zap.String("transaction_id", txn.TransactionID), zap.Error(err))
		} else {
			m.publish(store.EventPaymentFailed, failed.TransactionID, invoice.AccountID, "", viewOf(failed))
		}
		return PaymentView{}, gwErr
	}

	txn, err = m.store.AttachCheckout(ctx, store.AttachCheckoutInput{
		TransactionID: txn.TransactionID,
		GatewayRef:    checkout.GatewayRef,
		CheckoutURL:   checkout.CheckoutURL,
	})
	if err != nil {
		return PaymentView{}, err
	}
	m.publish(store.EventPaymentCreated, txn.TransactionID, invoice.AccountID, "", viewOf(txn))
	return viewOf(txn), nil
}

// Reconcile applies a gateway outcome. Success settles the invoice unless it
// is already paid, in which case the transaction fails and ErrInvalidState is returned.
func (m *Manager) Reconcile(ctx context.Context, transactionID string, req ReconcileRequest) (txn models.PaymentTransaction, invoice models.Invoice, err error) {
	defer func() {
		m.observe("payment", "reconcile", err)
		if req.Success {
			m.metrics.payments.WithLabelValues(string(models.SettledViaGateway), outcomeOf(err)).Inc()
		}
	}()

	if transactionID, err = requireID("transaction_id", transactionID); err != nil {
		return models.PaymentTransaction{}, models.Invoice{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if !req.Success && reason == "" {
		reason = "declined by gateway"
	}

	txn, invoice, err = m.store.ReconcilePayment(ctx, store.ReconcileInput{
		TransactionID: transactionID,
		Success:       req.Success,
		GatewayRef:    strings.TrimSpace(req.GatewayRef),
		Reason:        reason,
		OccurredAt:    m.now(),
	})
	if errors.Is(err, store.ErrAlreadySettled) {
		m.publish(store.EventPaymentFailed, txn.TransactionID, invoice.AccountID, "", viewOf(txn))
		return txn, invoice, err
	}
	if err != nil {
		return models.PaymentTransaction{}, models.Invoice{}, err
	}

	if txn.Status == models.TransactionSuccess {
		m.publish(store.EventPaymentSucceeded, txn.TransactionID, invoice.AccountID, "", viewOf(txn))
		m.publish(store.EventInvoicePaid, invoice.InvoiceID, invoice.AccountID, "", invoice)
	} else {
		m.publish(store.EventPaymentFailed, txn.TransactionID, invoice.AccountID, "", viewOf(txn))
	}
	return txn, invoice, nil
}

// PaymentStatus reports a transaction. A pending one is checked with the
// gateway first; a gateway that does not answer in time leaves it pending.
func (m *Manager) PaymentStatus(ctx context.Context, actor auth.Actor, transactionID string) (PaymentView, error) {
	transactionID, err := requireID("transaction_id", transactionID)
	if err != nil {
		return PaymentView{}, err
	}
	txn, err := m.store.GetPayment(ctx, transactionID)
	if err != nil {
		return PaymentView{}, err
	}
	invoice, err := m.store.GetInvoice(ctx, txn.InvoiceID)
	if err != nil {
		return PaymentView{}, err
	}
	if !actor.Role.IsStaff() && invoice.AccountID != actor.AccountID {
		return PaymentView{}, fmt.Errorf("payment not visible: %w", store.ErrForbidden)
	}
	if txn.Status == models.TransactionPending {
		txn = m.poll(ctx, txn)
	}
	return viewOf(txn), nil
}

// SweepStalePayments polls every transaction pending for longer than age and
// returns how many reached a terminal state.
func (m *Manager) SweepStalePayments(ctx context.Context, age time.Duration, limit int) (int, error) {
	pending, err := m.store.ListPendingPayments(ctx, m.now().Add(-age), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, txn := range pending {
		if ctx.Err() != nil {
			break
		}
		if polled := m.poll(ctx, txn); polled.Status != models.TransactionPending {
			settled++
		}
	}
	return settled, nil
}

func (m *Manager) poll(ctx context.Context, txn models.PaymentTransaction) models.PaymentTransaction {
	if m.gateway == nil {
		return txn
	}
	callCtx, cancel := m.withTimeout(ctx)
	started := time.Now()
	result, err := m.gateway.Status(callCtx, txn.TransactionID)
	cancel()
	m.metrics.gatewayTime.Observe(time.Since(started).Seconds())
	if err != nil {
		m.logger.Warn("payment status poll failed", zap.String("transaction_id", txn.TransactionID), zap.Error(err))
		return txn
	}
	if !result.Outcome.Terminal() {
		return txn
	}

	reconciled, _, err := m.Reconcile(ctx, txn.TransactionID, ReconcileRequest{
		Success:    result.Outcome == payment.OutcomeSuccess,
		GatewayRef: result.GatewayRef,
		Reason:     result.Reason,
	})
	if err == nil || errors.Is(err, store.ErrAlreadySettled) {
		return reconciled
	}
	// Someone else reconciled first.
	if current, getErr := m.store.GetPayment(ctx, txn.TransactionID); getErr == nil {
		return current
	}
	return txn
}
