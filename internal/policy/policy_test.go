package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

func TestAppointmentRules(t *testing.T) {
	subject := Subject{Kind: KindAppointment, OwnerID: "cust-1"}

	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", subject, "", "pending"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", subject, "", "pending"))
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", subject, "", "pending"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-1", subject, "", "pending"))

	assert.True(t, CanTransition(models.RoleStaff, "staff-1", subject, "pending", "confirmed"))
	assert.True(t, CanTransition(models.RoleAdmin, "admin-1", subject, "pending", "confirmed"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-1", subject, "pending", "confirmed"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-1", subject, "pending", "confirmed"))

	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", subject, "pending", "cancelled"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-1", subject, "confirmed", "cancelled"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", subject, "pending", "cancelled"))
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", subject, "confirmed", "cancelled"))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", subject, "completed", "cancelled"))
}

func TestWorkOrderRules(t *testing.T) {
	subject := Subject{Kind: KindWorkOrder, OwnerID: "cust-1", TechnicianID: "tech-1"}

	assert.True(t, CanTransition(models.RoleTechnician, "tech-1", subject, "pending", "in_progress"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-2", subject, "pending", "in_progress"))
	assert.False(t, CanTransition(models.RoleAdmin, "admin-1", subject, "in_progress", "completed"))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", subject, "in_progress", "on_hold"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-1", subject, "in_progress", "completed"))

	lines := Subject{Kind: KindWorkOrderLine, TechnicianID: "tech-1"}
	assert.True(t, CanTransition(models.RoleTechnician, "tech-1", lines, "", "line"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-2", lines, "", "line"))
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", lines, "", "line"))

	diagnosis := Subject{Kind: KindWorkOrderDiagnosis, TechnicianID: "tech-1"}
	assert.True(t, CanTransition(models.RoleTechnician, "tech-1", diagnosis, "", "line"))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", diagnosis, "", "line"))

	approval := Subject{Kind: KindPartApproval, TechnicianID: "tech-1"}
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", approval, "", "approved"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-1", approval, "", "approved"))
}

func TestInvoiceAndPaymentRules(t *testing.T) {
	invoice := Subject{Kind: KindInvoice, OwnerID: "cust-1"}

	assert.True(t, CanTransition(models.RoleStaff, "staff-1", invoice, "", "unpaid"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-1", invoice, "", "unpaid"))
	assert.True(t, CanTransition(models.RoleAdmin, "admin-1", invoice, "unpaid", "unpaid"))
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", invoice, "unpaid", "paid"))
	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", invoice, "unpaid", "paid"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", invoice, "unpaid", "paid"))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-1", invoice, "unpaid", "paid"))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", invoice, "paid", "unpaid"))

	payment := Subject{Kind: KindPayment, OwnerID: "cust-1"}
	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", payment, "", "pending"))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", payment, "", "pending"))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", payment, "", "pending"))
}

func TestAccountAndVehicleRules(t *testing.T) {
	account := Subject{Kind: KindAccount, OwnerID: "cust-1"}
	assert.True(t, CanTransition(models.RoleAdmin, "admin-1", account, "", StateAccess))
	assert.False(t, CanTransition(models.RoleStaff, "staff-1", account, "", StateAccess))
	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", account, "", StateProfile))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", account, "", StateProfile))

	vehicle := Subject{Kind: KindVehicle, OwnerID: "cust-1"}
	assert.True(t, CanTransition(models.RoleCustomer, "cust-1", vehicle, "", StateDeleted))
	assert.False(t, CanTransition(models.RoleCustomer, "cust-2", vehicle, "", StateDeleted))
	assert.True(t, CanTransition(models.RoleStaff, "staff-1", vehicle, "", StateDeleted))
	assert.False(t, CanTransition(models.RoleTechnician, "tech-1", vehicle, "", StateDeleted))
}

func TestRejectsAnonymousAndUnknown(t *testing.T) {
	subject := Subject{Kind: KindAppointment, OwnerID: "cust-1"}
	assert.False(t, CanTransition(models.RoleStaff, "", subject, "pending", "confirmed"))
	assert.False(t, CanTransition(models.Role("guest"), "x", subject, "", "pending"))
	assert.False(t, CanTransition(models.RoleAdmin, "admin-1", Subject{Kind: "ticket"}, "", ""))
}
