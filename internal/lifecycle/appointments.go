package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type AppointmentRequest struct {
	AccountID   string
	VehicleID   string
	ServiceID   string
	SlotID      string
	ScheduledAt time.Time
	Notes       string
}

func (m *Manager) CreateAppointment(ctx context.Context, actor auth.Actor, req AppointmentRequest) (appt models.Appointment, err error) {
	defer func() { m.observe("appointment", "create", err) }()

	if req.AccountID == "" && actor.Role == models.RoleCustomer {
		req.AccountID = actor.AccountID
	}
	accountID, err := requireID("account_id", req.AccountID)
	if err != nil {
		return models.Appointment{}, err
	}
	vehicleID, err := requireID("vehicle_id", req.VehicleID)
	if err != nil {
		return models.Appointment{}, err
	}
	serviceID, err := requireID("service_id", req.ServiceID)
	if err != nil {
		return models.Appointment{}, err
	}
	slotID := strings.TrimSpace(req.SlotID)
	if slotID != "" {
		if slotID, err = requireID("slot_id", slotID); err != nil {
			return models.Appointment{}, err
		}
	}

	if err := m.authorize(actor, policy.Subject{Kind: policy.KindAppointment, OwnerID: accountID}, policy.StateNone, string(models.AppointmentPending)); err != nil {
		return models.Appointment{}, err
	}

	vehicle, err := m.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return models.Appointment{}, err
	}
	if vehicle.AccountID != accountID {
		return models.Appointment{}, store.Invalid("vehicle_id", "vehicle does not belong to the account")
	}
	service, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return models.Appointment{}, err
	}
	if !service.Active {
		return models.Appointment{}, store.Invalid("service_id", "service is not offered")
	}

	scheduledAt := req.ScheduledAt
	if slotID != "" {
		slot, err := m.store.GetSlot(ctx, slotID)
		if err != nil {
			return models.Appointment{}, err
		}
		if scheduledAt.IsZero() {
			scheduledAt = slot.StartsAt
		}
	}
	if scheduledAt.IsZero() {
		return models.Appointment{}, store.Invalid("scheduled_at", "required")
	}

	appt, err = m.store.CreateAppointment(ctx, store.CreateAppointmentInput{
		AccountID:   accountID,
		VehicleID:   vehicleID,
		ServiceID:   serviceID,
		SlotID:      slotID,
		ScheduledAt: scheduledAt.UTC(),
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   m.now(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	m.publish(store.EventAppointmentCreated, appt.AppointmentID, appt.AccountID, "", appt)
	return appt, nil
}

// ConfirmWithTechnician confirms a pending appointment and materializes its
// work order. Only one of several concurrent confirmations succeeds.
func (m *Manager) ConfirmWithTechnician(ctx context.Context, actor auth.Actor, appointmentID, technicianID string) (appt models.Appointment, order models.WorkOrder, err error) {
	defer func() { m.observe("appointment", "confirm", err) }()

	if appointmentID, err = requireID("appointment_id", appointmentID); err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}
	if technicianID, err = requireID("technician_id", technicianID); err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}

	current, err := m.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}
	subject := policy.Subject{Kind: policy.KindAppointment, OwnerID: current.AccountID}
	if err := m.authorize(actor, subject, string(models.AppointmentPending), string(models.AppointmentConfirmed)); err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}
	if !store.ValidAppointmentTransition("confirm", current.Status) {
		return models.Appointment{}, models.WorkOrder{}, fmt.Errorf("appointment is %s: %w", current.Status, store.ErrInvalidState)
	}

	technician, err := m.store.GetAccount(ctx, technicianID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Appointment{}, models.WorkOrder{}, store.ErrTechnicianNotFound
		}
		return models.Appointment{}, models.WorkOrder{}, err
	}
	if technician.Role != models.RoleTechnician || technician.Status != models.AccountActive {
		return models.Appointment{}, models.WorkOrder{}, store.ErrTechnicianNotFound
	}

	appt, order, err = m.store.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{
		AppointmentID: appointmentID,
		TechnicianID:  technicianID,
		StaffID:       actor.AccountID,
		OccurredAt:    m.now(),
	})
	if err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}
	m.publish(store.EventAppointmentConfirmed, appt.AppointmentID, appt.AccountID, technicianID, appt)
	m.publish(store.EventWorkOrderCreated, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	return appt, order, nil
}

// Cancel cancels a pending or confirmed appointment, voiding its work order
// and releasing its slot in the same step.
func (m *Manager) Cancel(ctx context.Context, actor auth.Actor, appointmentID, reason string) (appt models.Appointment, err error) {
	defer func() { m.observe("appointment", "cancel", err) }()

	if appointmentID, err = requireID("appointment_id", appointmentID); err != nil {
		return models.Appointment{}, err
	}
	current, err := m.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	subject := policy.Subject{Kind: policy.KindAppointment, OwnerID: current.AccountID}
	to := string(models.AppointmentCancelled)
	if !store.ValidAppointmentTransition("cancel", current.Status) {
		if err := m.authorize(actor, subject, string(models.AppointmentPending), to); err != nil {
			return models.Appointment{}, err
		}
		return models.Appointment{}, fmt.Errorf("appointment is %s: %w", current.Status, store.ErrInvalidState)
	}
	if err := m.authorize(actor, subject, string(current.Status), to); err != nil {
		return models.Appointment{}, err
	}

	allowed := store.AppointmentSources("cancel")
	if !actor.Role.IsStaff() {
		allowed = []models.AppointmentStatus{models.AppointmentPending}
	}
	appt, err = m.store.CancelAppointment(ctx, store.CancelAppointmentInput{
		AppointmentID: appointmentID,
		ActorID:       actor.AccountID,
		Reason:        strings.TrimSpace(reason),
		AllowedFrom:   allowed,
		OccurredAt:    m.now(),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	// The technician is cleared on cancel; the voided work order still names them.
	order, err := m.store.GetWorkOrderByAppointment(ctx, appt.AppointmentID)
	voided := err == nil && order.Status == models.WorkOrderCancelled
	technicianID := ""
	if voided {
		technicianID = order.TechnicianID
	}
	m.publish(store.EventAppointmentCancelled, appt.AppointmentID, appt.AccountID, technicianID, appt)
	if voided {
		m.publish(store.EventWorkOrderCancelled, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	}
	return appt, nil
}

func (m *Manager) GetAppointment(ctx context.Context, actor auth.Actor, appointmentID string) (models.Appointment, error) {
	appointmentID, err := requireID("appointment_id", appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	appt, err := m.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if actor.Role.IsStaff() || appt.AccountID == actor.AccountID || deref(appt.TechnicianID) == actor.AccountID {
		return appt, nil
	}
	return models.Appointment{}, fmt.Errorf("appointment not visible: %w", store.ErrForbidden)
}

func (m *Manager) ListAppointments(ctx context.Context, actor auth.Actor, filter store.AppointmentFilter) ([]models.Appointment, error) {
	switch {
	case actor.Role == models.RoleCustomer:
		filter.AccountID = actor.AccountID
	case actor.Role.IsStaff():
	default:
		return nil, fmt.Errorf("%s may not list appointments: %w", actor.Role, store.ErrForbidden)
	}
	return m.store.ListAppointments(ctx, filter)
}
