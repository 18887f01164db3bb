package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) (models.Account, models.Vehicle, models.Service) {
	t.Helper()
	ctx := context.Background()
	customer, err := s.CreateAccount(ctx, store.CreateAccountInput{Username: "cust", Role: models.RoleCustomer, CreatedAt: now})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	vehicle, err := s.CreateVehicle(ctx, store.CreateVehicleInput{AccountID: customer.AccountID, VIN: "V1", CreatedAt: now})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	service, err := s.CreateService(ctx, store.CreateServiceInput{Name: "Battery Check", StandardCost: 200000})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return customer, vehicle, service
}

func TestSlotCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	customer, vehicle, service := seed(t, s)
	slot, err := s.CreateSlot(ctx, store.CreateSlotInput{StartsAt: now, EndsAt: now.Add(time.Hour), Capacity: 1})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	input := store.CreateAppointmentInput{
		AccountID:   customer.AccountID,
		VehicleID:   vehicle.VehicleID,
		ServiceID:   service.ServiceID,
		SlotID:      slot.SlotID,
		ScheduledAt: now,
		CreatedAt:   now,
	}
	first, err := s.CreateAppointment(ctx, input)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := s.CreateAppointment(ctx, input); !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}

	if _, err := s.CancelAppointment(ctx, store.CancelAppointmentInput{AppointmentID: first.AppointmentID, OccurredAt: now}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.CreateAppointment(ctx, input); err != nil {
		t.Fatalf("slot should be released after cancel: %v", err)
	}
}

func TestDuplicateVINLeavesOriginal(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, original, _ := seed(t, s)
	other, err := s.CreateAccount(ctx, store.CreateAccountInput{Username: "other", Role: models.RoleCustomer, CreatedAt: now})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := s.CreateVehicle(ctx, store.CreateVehicleInput{AccountID: other.AccountID, VIN: "v1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetVehicle(ctx, original.VehicleID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.AccountID != original.AccountID || got.VIN != "V1" {
		t.Fatalf("original vehicle changed: %+v", got)
	}
}

func TestConfirmWritesChainedEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	customer, vehicle, service := seed(t, s)
	appointment, err := s.CreateAppointment(ctx, store.CreateAppointmentInput{
		AccountID: customer.AccountID, VehicleID: vehicle.VehicleID, ServiceID: service.ServiceID, ScheduledAt: now, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	_, order, err := s.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{AppointmentID: appointment.AppointmentID, TechnicianID: "tech", StaffID: "staff", OccurredAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, err := s.ListEntityEvents(ctx, appointment.AppointmentID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[1].Type != store.EventAppointmentConfirmed {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := store.VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}

	orderEvents, err := s.ListEntityEvents(ctx, order.WorkOrderID)
	if err != nil {
		t.Fatalf("list work order events: %v", err)
	}
	if len(orderEvents) != 1 || orderEvents[0].Type != store.EventWorkOrderCreated || orderEvents[0].Seq != 1 {
		t.Fatalf("unexpected work order events: %+v", orderEvents)
	}
	if !orderEvents[0].CreatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("work order event at %s, want confirm time", orderEvents[0].CreatedAt)
	}
}

func TestDeleteVehicleWithActiveWorkOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	customer, vehicle, service := seed(t, s)
	appointment, err := s.CreateAppointment(ctx, store.CreateAppointmentInput{
		AccountID: customer.AccountID, VehicleID: vehicle.VehicleID, ServiceID: service.ServiceID, ScheduledAt: now, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if _, _, err := s.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{AppointmentID: appointment.AppointmentID, TechnicianID: "tech", StaffID: "staff", OccurredAt: now}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := s.DeleteVehicle(ctx, vehicle.VehicleID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := s.CancelAppointment(ctx, store.CancelAppointmentInput{AppointmentID: appointment.AppointmentID, OccurredAt: now}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.DeleteVehicle(ctx, vehicle.VehicleID); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
}
