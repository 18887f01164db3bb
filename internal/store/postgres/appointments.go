package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const appointmentColumns = `appointment_id, account_id, vehicle_id, service_id, slot_id, scheduled_at, status,
	technician_id, confirmed_by, notes, cancel_reason, created_at, updated_at, confirmed_at, cancelled_at`

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var appointment models.Appointment
	var slotID, technicianID, confirmedBy, notes, cancelReason sql.NullString
	var confirmedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&appointment.AppointmentID, &appointment.AccountID, &appointment.VehicleID, &appointment.ServiceID, &slotID,
		&appointment.ScheduledAt, &appointment.Status, &technicianID, &confirmedBy, &notes, &cancelReason,
		&appointment.CreatedAt, &appointment.UpdatedAt, &confirmedAt, &cancelledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	appointment.SlotID = nullStringPtr(slotID)
	appointment.TechnicianID = nullStringPtr(technicianID)
	appointment.ConfirmedBy = nullStringPtr(confirmedBy)
	appointment.Notes = notes.String
	appointment.CancelReason = cancelReason.String
	appointment.ScheduledAt = appointment.ScheduledAt.UTC()
	appointment.CreatedAt = appointment.CreatedAt.UTC()
	appointment.UpdatedAt = appointment.UpdatedAt.UTC()
	appointment.ConfirmedAt = nullTimePtr(confirmedAt)
	appointment.CancelledAt = nullTimePtr(cancelledAt)
	return appointment, nil
}

// CreateAppointment books a slot seat with a conditional increment, so the
// slot never goes past capacity however many bookings race for it.
func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	if !validID(input.VehicleID) {
		return models.Appointment{}, store.ErrVehicleNotFound
	}
	if !validID(input.ServiceID) {
		return models.Appointment{}, store.ErrServiceNotFound
	}
	if input.SlotID != "" && !validID(input.SlotID) {
		return models.Appointment{}, store.ErrSlotNotFound
	}

	var appointment models.Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := requireRow(ctx, tx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE vehicle_id = $1)`, input.VehicleID, store.ErrVehicleNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, `SELECT EXISTS (SELECT 1 FROM services WHERE service_id = $1)`, input.ServiceID, store.ErrServiceNotFound); err != nil {
			return err
		}
		if input.SlotID != "" {
			tag, err := tx.Exec(ctx, `UPDATE slots SET booked = booked + 1 WHERE slot_id = $1 AND booked < capacity`, input.SlotID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				if err := requireRow(ctx, tx, `SELECT EXISTS (SELECT 1 FROM slots WHERE slot_id = $1)`, input.SlotID, store.ErrSlotNotFound); err != nil {
					return err
				}
				return store.ErrSlotFull
			}
		}

		createdAt := dbTime(input.CreatedAt)
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (appointment_id, account_id, vehicle_id, service_id, slot_id, scheduled_at, status, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING `+appointmentColumns,
			uuid.NewString(), input.AccountID, input.VehicleID, input.ServiceID, nullIfEmpty(input.SlotID), dbTime(input.ScheduledAt), models.AppointmentPending, nullIfEmpty(input.Notes), createdAt)
		var err error
		if appointment, err = scanAppointment(row); err != nil {
			return err
		}
		return record(ctx, tx, appointment.AppointmentID, appointment.AccountID, store.EventAppointmentCreated, appointment, createdAt)
	})
	if isCheckViolation(err) {
		return models.Appointment{}, store.ErrSlotFull
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	if !validID(appointmentID) {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE appointment_id = $1`, appointmentID))
}

func (s *Store) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE TRUE`
	args := []any{}
	if filter.AccountID != "" {
		if !validID(filter.AccountID) {
			return nil, nil
		}
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(` AND account_id = $%d`, len(args))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY scheduled_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	return appointments, rows.Err()
}

// ConfirmAppointment moves pending to confirmed with a conditional update and
// inserts the work order in the same transaction. Of two racing confirms only
// one matches the pending row; the other reports the state it lost to.
func (s *Store) ConfirmAppointment(ctx context.Context, input store.ConfirmAppointmentInput) (models.Appointment, models.WorkOrder, error) {
	if !validID(input.AppointmentID) {
		return models.Appointment{}, models.WorkOrder{}, store.ErrAppointmentNotFound
	}
	var appointment models.Appointment
	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		at := dbTime(input.OccurredAt)
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, technician_id = $3, confirmed_by = $4, confirmed_at = $5, updated_at = $5
			WHERE appointment_id = $1 AND status = $6
			RETURNING `+appointmentColumns,
			input.AppointmentID, models.AppointmentConfirmed, input.TechnicianID, input.StaffID, at, models.AppointmentPending)
		var err error
		appointment, err = scanAppointment(row)
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return appointmentStateError(ctx, tx, input.AppointmentID)
		}
		if err != nil {
			return err
		}

		orderRow := tx.QueryRow(ctx, `
			INSERT INTO work_orders (work_order_id, appointment_id, account_id, vehicle_id, technician_id, status, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
			RETURNING `+workOrderColumns,
			uuid.NewString(), appointment.AppointmentID, appointment.AccountID, appointment.VehicleID, input.TechnicianID, models.WorkOrderPending, at)
		if order, err = scanWorkOrder(orderRow); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("work order already exists for appointment: %w", store.ErrInvalidState)
			}
			return err
		}
		order.Services = []models.ServiceDetail{}
		order.Parts = []models.PartUsage{}

		if err := record(ctx, tx, appointment.AppointmentID, appointment.AccountID, store.EventAppointmentConfirmed, appointment, at); err != nil {
			return err
		}
		return record(ctx, tx, order.WorkOrderID, order.AccountID, store.EventWorkOrderCreated, order, at)
	})
	if err != nil {
		return models.Appointment{}, models.WorkOrder{}, err
	}
	return appointment, order, nil
}

// CancelAppointment voids any active work order and releases the booked seat.
func (s *Store) CancelAppointment(ctx context.Context, input store.CancelAppointmentInput) (models.Appointment, error) {
	if !validID(input.AppointmentID) {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	allowed := input.AllowedFrom
	if len(allowed) == 0 {
		allowed = store.AppointmentSources("cancel")
	}

	var appointment models.Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		at := dbTime(input.OccurredAt)
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, technician_id = NULL, cancel_reason = $3, cancelled_at = $4, updated_at = $4
			WHERE appointment_id = $1 AND status = ANY($5)
			RETURNING `+appointmentColumns,
			input.AppointmentID, models.AppointmentCancelled, nullIfEmpty(input.Reason), at, statusStrings(allowed))
		var err error
		appointment, err = scanAppointment(row)
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return appointmentStateError(ctx, tx, input.AppointmentID)
		}
		if err != nil {
			return err
		}

		if appointment.SlotID != nil {
			if _, err := tx.Exec(ctx, `UPDATE slots SET booked = booked - 1 WHERE slot_id = $1 AND booked > 0`, *appointment.SlotID); err != nil {
				return err
			}
		}
		if err := record(ctx, tx, appointment.AppointmentID, appointment.AccountID, store.EventAppointmentCancelled, appointment, at); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			UPDATE work_orders
			SET status = $2, ended_at = $3, updated_at = $3
			WHERE appointment_id = $1 AND status = ANY($4)
			RETURNING `+workOrderColumns,
			appointment.AppointmentID, models.WorkOrderCancelled, at, statusStrings(store.WorkOrderSources(store.ActionVoid)))
		if err != nil {
			return err
		}
		var voided []models.WorkOrder
		for rows.Next() {
			order, err := scanWorkOrder(rows)
			if err != nil {
				rows.Close()
				return err
			}
			voided = append(voided, order)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, order := range voided {
			if err := loadLines(ctx, tx, &order); err != nil {
				return err
			}
			if err := record(ctx, tx, order.WorkOrderID, order.AccountID, store.EventWorkOrderCancelled, order, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

// appointmentStateError explains why a conditional appointment update matched nothing.
func appointmentStateError(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	var status models.AppointmentStatus
	err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE appointment_id = $1`, appointmentID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrAppointmentNotFound
	}
	if err != nil {
		return err
	}
	return stateError("appointment", status)
}

func requireRow(ctx context.Context, tx pgx.Tx, query, id string, missing error) error {
	var exists bool
	if err := tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return missing
	}
	return nil
}

func stateError(entity string, status any) error {
	return fmt.Errorf("%s is %v: %w", entity, status, store.ErrInvalidState)
}
