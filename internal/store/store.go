package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

type CreateAccountInput struct {
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	Phone        string
	Role         models.Role
	CreatedAt    time.Time
}

type UpdateProfileInput struct {
	AccountID string
	FullName  *string
	Email     *string
	Phone     *string
}

type UpdateAccessInput struct {
	AccountID string
	Role      *models.Role
	Status    *models.AccountStatus
}

type CreateVehicleInput struct {
	AccountID     string
	VIN           string
	LicensePlate  string
	Model         string
	Year          int
	Color         string
	Mileage       int64
	BatteryHealth *float64
	CreatedAt     time.Time
}

type UpdateVehicleInput struct {
	VehicleID     string
	LicensePlate  *string
	Color         *string
	Mileage       *int64
	BatteryHealth *float64
}

type CreateServiceInput struct {
	Name         string
	StandardCost int64
	Description  string
	Category     string
}

type CreateSlotInput struct {
	StartsAt time.Time
	EndsAt   time.Time
	Capacity int
}

type CreateAppointmentInput struct {
	AccountID   string
	VehicleID   string
	ServiceID   string
	SlotID      string
	ScheduledAt time.Time
	Notes       string
	CreatedAt   time.Time
}

type ConfirmAppointmentInput struct {
	AppointmentID string
	TechnicianID  string
	StaffID       string
	OccurredAt    time.Time
}

type CancelAppointmentInput struct {
	AppointmentID string
	ActorID       string
	Reason        string
	// AllowedFrom narrows the statuses the cancel may start from.
	AllowedFrom []models.AppointmentStatus
	OccurredAt  time.Time
}

type AppointmentFilter struct {
	AccountID string
	Statuses  []models.AppointmentStatus
}

type WorkOrderTransitionInput struct {
	WorkOrderID  string
	TechnicianID string
	From         []models.WorkOrderStatus
	To           models.WorkOrderStatus
	Reason       string
	OccurredAt   time.Time
}

type WorkOrderFilter struct {
	TechnicianID string
	AccountID    string
	Statuses     []models.WorkOrderStatus
}

type AddServiceLineInput struct {
	WorkOrderID string
	ActorID     string
	ServiceID   string
	Quantity    int
	UnitPrice   int64
	OccurredAt  time.Time
}

type AddPartUsageInput struct {
	WorkOrderID     string
	ActorID         string
	PartID          string
	Quantity        int
	UnitPrice       int64
	SuggestedByTech bool
	OccurredAt      time.Time
}

type ApprovePartInput struct {
	WorkOrderID string
	LineID      string
	StaffID     string
	OccurredAt  time.Time
}

type UpdateDiagnosisInput struct {
	WorkOrderID  string
	TechnicianID string
	Diagnosis    string
	OccurredAt   time.Time
}

type IssueInvoiceInput struct {
	WorkOrderID string
	StaffID     string
	OccurredAt  time.Time
}

type InvoiceFilter struct {
	AccountID  string
	UnpaidOnly bool
}

type SettleInvoiceInput struct {
	InvoiceID  string
	ActorID    string
	Via        models.SettlementVia
	OccurredAt time.Time
}

type CreatePaymentInput struct {
	InvoiceID  string
	ActorID    string
	Amount     int64
	Method     string
	OccurredAt time.Time
}

type AttachCheckoutInput struct {
	TransactionID string
	GatewayRef    string
	CheckoutURL   string
}

type ReconcileInput struct {
	TransactionID string
	Success       bool
	GatewayRef    string
	Reason        string
	OccurredAt    time.Time
}

type AccountStore interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (models.Account, error)
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (models.Account, error)
	ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error)
	UpdateProfile(ctx context.Context, input UpdateProfileInput) (models.Account, error)
	UpdateAccess(ctx context.Context, input UpdateAccessInput) (models.Account, error)
}

type VehicleStore interface {
	CreateVehicle(ctx context.Context, input CreateVehicleInput) (models.Vehicle, error)
	GetVehicle(ctx context.Context, vehicleID string) (models.Vehicle, error)
	ListVehicles(ctx context.Context, accountID string) ([]models.Vehicle, error)
	UpdateVehicle(ctx context.Context, input UpdateVehicleInput) (models.Vehicle, error)
	DeleteVehicle(ctx context.Context, vehicleID string) error
}

type CatalogStore interface {
	CreateService(ctx context.Context, input CreateServiceInput) (models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	SetServiceActive(ctx context.Context, serviceID string, active bool) (models.Service, error)
	CreateSlot(ctx context.Context, input CreateSlotInput) (models.Slot, error)
	GetSlot(ctx context.Context, slotID string) (models.Slot, error)
	ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error)
}

type AppointmentStore interface {
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]models.Appointment, error)
	// ConfirmAppointment moves a pending appointment to confirmed and
	// materializes its work order in the same atomic step.
	ConfirmAppointment(ctx context.Context, input ConfirmAppointmentInput) (models.Appointment, models.WorkOrder, error)
	// CancelAppointment voids any materialized work order and releases the slot.
	CancelAppointment(ctx context.Context, input CancelAppointmentInput) (models.Appointment, error)
}

type WorkOrderStore interface {
	GetWorkOrder(ctx context.Context, workOrderID string) (models.WorkOrder, error)
	GetWorkOrderByAppointment(ctx context.Context, appointmentID string) (models.WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]models.WorkOrder, error)
	TransitionWorkOrder(ctx context.Context, input WorkOrderTransitionInput) (models.WorkOrder, error)
	UpdateDiagnosis(ctx context.Context, input UpdateDiagnosisInput) (models.WorkOrder, error)
	AddServiceLine(ctx context.Context, input AddServiceLineInput) (models.WorkOrder, error)
	AddPartUsage(ctx context.Context, input AddPartUsageInput) (models.WorkOrder, error)
	ApprovePartUsage(ctx context.Context, input ApprovePartInput) (models.WorkOrder, error)
}

type InvoiceStore interface {
	IssueInvoice(ctx context.Context, input IssueInvoiceInput) (models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	MarkInvoiceSent(ctx context.Context, invoiceID string, sentAt time.Time) (models.Invoice, error)
	// SettleInvoice moves an unpaid invoice to paid without a gateway record.
	SettleInvoice(ctx context.Context, input SettleInvoiceInput) (models.Invoice, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (models.PaymentTransaction, error)
	AttachCheckout(ctx context.Context, input AttachCheckoutInput) (models.PaymentTransaction, error)
	GetPayment(ctx context.Context, transactionID string) (models.PaymentTransaction, error)
	ReconcilePayment(ctx context.Context, input ReconcileInput) (models.PaymentTransaction, models.Invoice, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error)
}

type NotificationStore interface {
	ListSeenKeys(ctx context.Context, accountID string) ([]string, error)
	MarkSeen(ctx context.Context, accountID string, keys []string) error
}

type EventStore interface {
	ListEntityEvents(ctx context.Context, entityID string) ([]EntityEvent, error)
}

// Store is the full persistence surface used by the lifecycle managers.
type Store interface {
	AccountStore
	VehicleStore
	CatalogStore
	AppointmentStore
	WorkOrderStore
	InvoiceStore
	PaymentStore
	NotificationStore
	EventStore
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id"`
	AccountID string          `json:"account_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
