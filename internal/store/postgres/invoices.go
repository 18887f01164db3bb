package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const (
	reasonSuperseded     = "superseded"
	reasonAlreadySettled = "invoice already settled"
)

const invoiceColumns = `invoice_id, work_order_id, account_id, total_amount, payment_status, settled_via, issued_by,
	sent_to_customer_at, customer_paid_at, created_at`

const paymentColumns = `transaction_id, invoice_id, amount, method, status, gateway_ref, checkout_url, failure_reason, created_at, updated_at`

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var invoice models.Invoice
	var settledVia sql.NullString
	var sentAt, paidAt sql.NullTime
	if err := row.Scan(
		&invoice.InvoiceID, &invoice.WorkOrderID, &invoice.AccountID, &invoice.TotalAmount, &invoice.PaymentStatus,
		&settledVia, &invoice.IssuedBy, &sentAt, &paidAt, &invoice.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invoice{}, store.ErrInvoiceNotFound
		}
		return models.Invoice{}, err
	}
	if settledVia.Valid {
		via := models.SettlementVia(settledVia.String)
		invoice.SettledVia = &via
	}
	invoice.SentToCustomerAt = nullTimePtr(sentAt)
	invoice.CustomerPaidAt = nullTimePtr(paidAt)
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	return invoice, nil
}

func scanPayment(row pgx.Row) (models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	var gatewayRef, checkoutURL, failureReason sql.NullString
	if err := row.Scan(
		&txn.TransactionID, &txn.InvoiceID, &txn.Amount, &txn.Method, &txn.Status,
		&gatewayRef, &checkoutURL, &failureReason, &txn.CreatedAt, &txn.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentTransaction{}, store.ErrTransactionNotFound
		}
		return models.PaymentTransaction{}, err
	}
	txn.GatewayRef = gatewayRef.String
	txn.CheckoutURL = checkoutURL.String
	txn.FailureReason = failureReason.String
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	return txn, nil
}

// IssueInvoice snapshots the total of a completed work order. The unique
// work_order_id column keeps it to one invoice per order.
func (s *Store) IssueInvoice(ctx context.Context, input store.IssueInvoiceInput) (models.Invoice, error) {
	var invoice models.Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if !validID(input.WorkOrderID) {
			return store.ErrWorkOrderNotFound
		}
		order, err := scanWorkOrder(tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE work_order_id = $1 FOR SHARE`, input.WorkOrderID))
		if err != nil {
			return err
		}
		if order.Status != models.WorkOrderCompleted {
			return stateError("work order", order.Status)
		}
		at := dbTime(input.OccurredAt)
		invoice, err = scanInvoice(tx.QueryRow(ctx, `
			INSERT INTO invoices (invoice_id, work_order_id, account_id, total_amount, payment_status, issued_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (work_order_id) DO NOTHING
			RETURNING `+invoiceColumns,
			uuid.NewString(), order.WorkOrderID, order.AccountID, order.TotalAmount, models.PaymentUnpaid, input.StaffID, at))
		if errors.Is(err, store.ErrInvoiceNotFound) {
			return store.ErrInvoiceExists
		}
		if err != nil {
			return err
		}
		return record(ctx, tx, invoice.InvoiceID, invoice.AccountID, store.EventInvoiceIssued, invoice, at)
	})
	if err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	if !validID(invoiceID) {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	return scanInvoice(s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_id = $1`, invoiceID))
}

func (s *Store) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE TRUE`
	args := []any{}
	if filter.AccountID != "" {
		if !validID(filter.AccountID) {
			return nil, nil
		}
		args = append(args, filter.AccountID)
		query += ` AND account_id = $1`
	}
	if filter.UnpaidOnly {
		query += ` AND payment_status = 'unpaid'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

func (s *Store) MarkInvoiceSent(ctx context.Context, invoiceID string, sentAt time.Time) (models.Invoice, error) {
	if !validID(invoiceID) {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	var invoice models.Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		at := dbTime(sentAt)
		var err error
		invoice, err = scanInvoice(tx.QueryRow(ctx, `
			UPDATE invoices SET sent_to_customer_at = $2
			WHERE invoice_id = $1
			RETURNING `+invoiceColumns,
			invoiceID, at))
		if err != nil {
			return err
		}
		return record(ctx, tx, invoice.InvoiceID, invoice.AccountID, store.EventInvoiceSent, invoice, at)
	})
	if err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) SettleInvoice(ctx context.Context, input store.SettleInvoiceInput) (models.Invoice, error) {
	if !validID(input.InvoiceID) {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	var invoice models.Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockInvoice(ctx, tx, input.InvoiceID)
		if err != nil {
			return err
		}
		invoice, err = settle(ctx, tx, current, input.Via, input.ActorID, "", dbTime(input.OccurredAt))
		return err
	})
	if err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) CreatePayment(ctx context.Context, input store.CreatePaymentInput) (models.PaymentTransaction, error) {
	if !validID(input.InvoiceID) {
		return models.PaymentTransaction{}, store.ErrInvoiceNotFound
	}
	var txn models.PaymentTransaction
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		invoice, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_id = $1 FOR SHARE`, input.InvoiceID))
		if err != nil {
			return err
		}
		if invoice.PaymentStatus != models.PaymentUnpaid {
			return store.ErrAlreadySettled
		}
		at := dbTime(input.OccurredAt)
		txn, err = scanPayment(tx.QueryRow(ctx, `
			INSERT INTO payment_transactions (transaction_id, invoice_id, amount, method, status, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING `+paymentColumns,
			uuid.NewString(), invoice.InvoiceID, input.Amount, input.Method, models.TransactionPending, nullIfEmpty(input.ActorID), at))
		if err != nil {
			return err
		}
		return record(ctx, tx, txn.TransactionID, invoice.AccountID, store.EventPaymentCreated, txn, at)
	})
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	return txn, nil
}

func (s *Store) AttachCheckout(ctx context.Context, input store.AttachCheckoutInput) (models.PaymentTransaction, error) {
	if !validID(input.TransactionID) {
		return models.PaymentTransaction{}, store.ErrTransactionNotFound
	}
	return scanPayment(s.pool.QueryRow(ctx, `
		UPDATE payment_transactions SET gateway_ref = $2, checkout_url = $3
		WHERE transaction_id = $1
		RETURNING `+paymentColumns,
		input.TransactionID, nullIfEmpty(input.GatewayRef), nullIfEmpty(input.CheckoutURL)))
}

func (s *Store) GetPayment(ctx context.Context, transactionID string) (models.PaymentTransaction, error) {
	if !validID(transactionID) {
		return models.PaymentTransaction{}, store.ErrTransactionNotFound
	}
	return scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE transaction_id = $1`, transactionID))
}

// ReconcilePayment applies a gateway outcome to a pending transaction. A
// success that arrives after the invoice was settled another way is recorded
// as a failed attempt and reported with store.ErrAlreadySettled.
func (s *Store) ReconcilePayment(ctx context.Context, input store.ReconcileInput) (models.PaymentTransaction, models.Invoice, error) {
	if !validID(input.TransactionID) {
		return models.PaymentTransaction{}, models.Invoice{}, store.ErrTransactionNotFound
	}
	var txn models.PaymentTransaction
	var invoice models.Invoice
	lateSuccess := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var invoiceID string
		err := tx.QueryRow(ctx, `SELECT invoice_id FROM payment_transactions WHERE transaction_id = $1`, input.TransactionID).Scan(&invoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		// Invoice before transaction, the same order settle uses.
		if invoice, err = lockInvoice(ctx, tx, invoiceID); err != nil {
			return err
		}
		txn, err = scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE transaction_id = $1 FOR UPDATE`, input.TransactionID))
		if err != nil {
			return err
		}
		if txn.Status != models.TransactionPending {
			return stateError("payment transaction", txn.Status)
		}
		at := dbTime(input.OccurredAt)
		gatewayRef := txn.GatewayRef
		if input.GatewayRef != "" {
			gatewayRef = input.GatewayRef
		}

		if !input.Success {
			txn, err = finishPayment(ctx, tx, txn.TransactionID, models.TransactionFailed, gatewayRef, input.Reason, invoice.AccountID, at)
			return err
		}
		if invoice.PaymentStatus != models.PaymentUnpaid {
			lateSuccess = true
			txn, err = finishPayment(ctx, tx, txn.TransactionID, models.TransactionFailed, gatewayRef, reasonAlreadySettled, invoice.AccountID, at)
			return err
		}
		if txn, err = finishPayment(ctx, tx, txn.TransactionID, models.TransactionSuccess, gatewayRef, "", invoice.AccountID, at); err != nil {
			return err
		}
		invoice, err = settle(ctx, tx, invoice, models.SettledViaGateway, "", txn.TransactionID, at)
		return err
	})
	if err != nil {
		return models.PaymentTransaction{}, models.Invoice{}, err
	}
	if lateSuccess {
		return txn, invoice, store.ErrAlreadySettled
	}
	return txn, invoice, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []models.PaymentTransaction
	for rows.Next() {
		txn, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, txn)
	}
	return pending, rows.Err()
}

func lockInvoice(ctx context.Context, tx pgx.Tx, invoiceID string) (models.Invoice, error) {
	return scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_id = $1 FOR UPDATE`, invoiceID))
}

// settle claims the invoice_settlements row, marks the invoice paid and fails
// every other pending attempt for it. The caller holds the invoice row lock.
func settle(ctx context.Context, tx pgx.Tx, invoice models.Invoice, via models.SettlementVia, actorID, keepTxn string, at time.Time) (models.Invoice, error) {
	if invoice.PaymentStatus != models.PaymentUnpaid {
		return models.Invoice{}, store.ErrAlreadySettled
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO invoice_settlements (invoice_id, via, transaction_id, settled_by, settled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (invoice_id) DO NOTHING
	`, invoice.InvoiceID, via, nullIfEmpty(keepTxn), nullIfEmpty(actorID), at)
	if err != nil {
		return models.Invoice{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Invoice{}, store.ErrAlreadySettled
	}

	paid, err := scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoices
		SET payment_status = $2, settled_via = $3, customer_paid_at = $4
		WHERE invoice_id = $1 AND payment_status = $5
		RETURNING `+invoiceColumns,
		invoice.InvoiceID, models.PaymentPaid, via, at, models.PaymentUnpaid))
	if errors.Is(err, store.ErrInvoiceNotFound) {
		return models.Invoice{}, store.ErrAlreadySettled
	}
	if err != nil {
		return models.Invoice{}, err
	}
	if err := record(ctx, tx, paid.InvoiceID, paid.AccountID, store.EventInvoicePaid, paid, at); err != nil {
		return models.Invoice{}, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE payment_transactions
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE invoice_id = $1 AND status = $5 AND transaction_id::text <> $6
		RETURNING `+paymentColumns,
		paid.InvoiceID, models.TransactionFailed, reasonSuperseded, at, models.TransactionPending, keepTxn)
	if err != nil {
		return models.Invoice{}, err
	}
	var superseded []models.PaymentTransaction
	for rows.Next() {
		txn, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return models.Invoice{}, err
		}
		superseded = append(superseded, txn)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Invoice{}, err
	}
	for _, txn := range superseded {
		if err := record(ctx, tx, txn.TransactionID, paid.AccountID, store.EventPaymentFailed, txn, at); err != nil {
			return models.Invoice{}, err
		}
	}
	return paid, nil
}

func finishPayment(ctx context.Context, tx pgx.Tx, transactionID string, status models.TransactionStatus, gatewayRef, reason, accountID string, at time.Time) (models.PaymentTransaction, error) {
	txn, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2, gateway_ref = $3, failure_reason = $4, updated_at = $5
		WHERE transaction_id = $1 AND status = $6
		RETURNING `+paymentColumns,
		transactionID, status, nullIfEmpty(gatewayRef), nullIfEmpty(reason), at, models.TransactionPending))
	if errors.Is(err, store.ErrTransactionNotFound) {
		return models.PaymentTransaction{}, stateError("payment transaction", "no longer pending")
	}
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	eventType := store.EventPaymentFailed
	if status == models.TransactionSuccess {
		eventType = store.EventPaymentSucceeded
	}
	if err := record(ctx, tx, txn.TransactionID, accountID, eventType, txn, at); err != nil {
		return models.PaymentTransaction{}, err
	}
	return txn, nil
}
