package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[input.VehicleID]; !ok {
		return models.Appointment{}, store.ErrVehicleNotFound
	}
	if _, ok := s.services[input.ServiceID]; !ok {
		return models.Appointment{}, store.ErrServiceNotFound
	}

	appointment := models.Appointment{
		AppointmentID: uuid.NewString(),
		AccountID:     input.AccountID,
		VehicleID:     input.VehicleID,
		ServiceID:     input.ServiceID,
		ScheduledAt:   input.ScheduledAt,
		Status:        models.AppointmentPending,
		Notes:         input.Notes,
		CreatedAt:     input.CreatedAt,
		UpdatedAt:     input.CreatedAt,
	}

	if input.SlotID != "" {
		slot, ok := s.slots[input.SlotID]
		if !ok {
			return models.Appointment{}, store.ErrSlotNotFound
		}
		if slot.Full() {
			return models.Appointment{}, store.ErrSlotFull
		}
		slot.Booked++
		s.slots[slot.SlotID] = slot
		slotID := slot.SlotID
		appointment.SlotID = &slotID
	}

	s.appointments[appointment.AppointmentID] = appointment
	s.record(appointment.AppointmentID, store.EventAppointmentCreated, appointment, input.CreatedAt)
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return appointment, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appointments []models.Appointment
	for _, appointment := range s.appointments {
		if filter.AccountID != "" && appointment.AccountID != filter.AccountID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, appointment.Status) {
			continue
		}
		appointments = append(appointments, appointment)
	}
	sort.Slice(appointments, func(i, j int) bool {
		return appointments[i].ScheduledAt.After(appointments[j].ScheduledAt)
	})
	return appointments, nil
}

func (s *Store) ConfirmAppointment(ctx context.Context, input store.ConfirmAppointmentInput) (models.Appointment, models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, models.WorkOrder{}, store.ErrAppointmentNotFound
	}
	if appointment.Status != models.AppointmentPending {
		return models.Appointment{}, models.WorkOrder{}, stateError("appointment", appointment.Status)
	}

	technicianID := input.TechnicianID
	staffID := input.StaffID
	confirmedAt := input.OccurredAt
	appointment.Status = models.AppointmentConfirmed
	appointment.TechnicianID = &technicianID
	appointment.ConfirmedBy = &staffID
	appointment.ConfirmedAt = &confirmedAt
	appointment.UpdatedAt = confirmedAt
	s.appointments[appointment.AppointmentID] = appointment

	order := models.WorkOrder{
		WorkOrderID:   uuid.NewString(),
		AppointmentID: appointment.AppointmentID,
		AccountID:     appointment.AccountID,
		VehicleID:     appointment.VehicleID,
		TechnicianID:  technicianID,
		Status:        models.WorkOrderPending,
		Services:      []models.ServiceDetail{},
		Parts:         []models.PartUsage{},
		CreatedAt:     confirmedAt,
		UpdatedAt:     confirmedAt,
	}
	s.workOrders[order.WorkOrderID] = order

	s.record(appointment.AppointmentID, store.EventAppointmentConfirmed, appointment, confirmedAt)
	s.record(order.WorkOrderID, store.EventWorkOrderCreated, order, confirmedAt)
	return appointment, cloneWorkOrder(order), nil
}

func (s *Store) CancelAppointment(ctx context.Context, input store.CancelAppointmentInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	allowed := input.AllowedFrom
	if len(allowed) == 0 {
		allowed = store.AppointmentSources("cancel")
	}
	if !hasStatus(allowed, appointment.Status) {
		return models.Appointment{}, stateError("appointment", appointment.Status)
	}

	at := input.OccurredAt
	appointment.Status = models.AppointmentCancelled
	appointment.TechnicianID = nil
	appointment.CancelReason = input.Reason
	appointment.CancelledAt = &at
	appointment.UpdatedAt = at
	s.appointments[appointment.AppointmentID] = appointment

	if appointment.SlotID != nil {
		if slot, ok := s.slots[*appointment.SlotID]; ok && slot.Booked > 0 {
			slot.Booked--
			s.slots[slot.SlotID] = slot
		}
	}

	s.record(appointment.AppointmentID, store.EventAppointmentCancelled, appointment, at)
	for id, order := range s.workOrders {
		if order.AppointmentID != appointment.AppointmentID || !store.ValidWorkOrderTransition(store.ActionVoid, order.Status) {
			continue
		}
		order.Status = models.WorkOrderCancelled
		order.EndedAt = &at
		order.UpdatedAt = at
		s.workOrders[id] = order
		s.record(order.WorkOrderID, store.EventWorkOrderCancelled, order, at)
	}
	return appointment, nil
}

func hasStatus[T comparable](statuses []T, status T) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
