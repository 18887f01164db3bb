// Package policy decides which role may move which subject between states.
package policy

import "github.com/khoi0903/ev-maintenance-app-sub001/internal/models"

type Kind string

const (
	KindAppointment        Kind = "appointment"
	KindWorkOrder          Kind = "work_order"
	KindWorkOrderLine      Kind = "work_order_line"
	KindWorkOrderDiagnosis Kind = "work_order_diagnosis"
	KindPartApproval       Kind = "part_approval"
	KindInvoice            Kind = "invoice"
	KindPayment            Kind = "payment"
	KindAccount            Kind = "account"
	KindVehicle            Kind = "vehicle"
)

// Subject is the entity being acted upon. OwnerID is the customer account,
// TechnicianID the assigned technician when there is one.
type Subject struct {
	Kind         Kind
	OwnerID      string
	TechnicianID string
}

// Pseudo-states for operations that are not status transitions.
const (
	StateNone    = ""
	StateProfile = "profile"
	StateAccess  = "access"
	StateDeleted = "deleted"
	StateLine    = "line"
)

func CanTransition(role models.Role, actorID string, subject Subject, from, to string) bool {
	if actorID == "" || !role.Valid() {
		return false
	}
	owner := subject.OwnerID != "" && subject.OwnerID == actorID
	assigned := subject.TechnicianID != "" && subject.TechnicianID == actorID

	switch subject.Kind {
	case KindAppointment:
		return appointmentRule(role, owner, from, to)
	case KindWorkOrder:
		return role == models.RoleTechnician && assigned
	case KindWorkOrderLine:
		return role.IsStaff() || (role == models.RoleTechnician && assigned)
	case KindWorkOrderDiagnosis:
		return role == models.RoleTechnician && assigned
	case KindPartApproval:
		return role.IsStaff()
	case KindInvoice:
		return invoiceRule(role, owner, from, to)
	case KindPayment:
		return from == StateNone && to == string(models.TransactionPending) && role == models.RoleCustomer && owner
	case KindAccount:
		if to == StateAccess {
			return role == models.RoleAdmin
		}
		return owner
	case KindVehicle:
		return role.IsStaff() || (role == models.RoleCustomer && owner)
	}
	return false
}

func appointmentRule(role models.Role, owner bool, from, to string) bool {
	switch {
	case from == StateNone && to == string(models.AppointmentPending):
		return role.IsStaff() || (role == models.RoleCustomer && owner)
	case from == string(models.AppointmentPending) && to == string(models.AppointmentConfirmed):
		return role.IsStaff()
	case to == string(models.AppointmentCancelled):
		switch from {
		case string(models.AppointmentPending):
			return role.IsStaff() || (role == models.RoleCustomer && owner)
		case string(models.AppointmentConfirmed):
			return role.IsStaff()
		}
	}
	return false
}

func invoiceRule(role models.Role, owner bool, from, to string) bool {
	unpaid := string(models.PaymentUnpaid)
	paid := string(models.PaymentPaid)
	switch {
	case from == StateNone && to == unpaid:
		return role.IsStaff()
	case from == unpaid && to == unpaid:
		return role.IsStaff()
	case from == unpaid && to == paid:
		return role.IsStaff() || (role == models.RoleCustomer && owner)
	}
	return false
}
