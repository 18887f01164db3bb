package models

import "time"

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// SettlementVia records which path moved an invoice to paid.
type SettlementVia string

const (
	SettledViaGateway           SettlementVia = "gateway"
	SettledViaStaffManual       SettlementVia = "staff_manual"
	SettledViaCustomerConfirmed SettlementVia = "customer_confirmed"
)

type Invoice struct {
	InvoiceID        string         `json:"invoice_id"`
	WorkOrderID      string         `json:"work_order_id"`
	AccountID        string         `json:"account_id"`
	TotalAmount      int64          `json:"total_amount"`
	PaymentStatus    PaymentStatus  `json:"payment_status"`
	SettledVia       *SettlementVia `json:"settled_via,omitempty"`
	IssuedBy         string         `json:"issued_by"`
	SentToCustomerAt *time.Time     `json:"sent_to_customer_at,omitempty"`
	CustomerPaidAt   *time.Time     `json:"customer_paid_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

type PaymentTransaction struct {
	TransactionID string            `json:"transaction_id"`
	InvoiceID     string            `json:"invoice_id"`
	Amount        int64             `json:"amount"`
	Method        string            `json:"method"`
	Status        TransactionStatus `json:"status"`
	GatewayRef    string            `json:"gateway_ref,omitempty"`
	CheckoutURL   string            `json:"checkout_url,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
