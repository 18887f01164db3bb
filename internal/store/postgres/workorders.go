package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const workOrderColumns = `work_order_id, appointment_id, account_id, vehicle_id, technician_id, status, diagnosis,
	hold_reason, started_at, ended_at, total_amount, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanWorkOrder(row pgx.Row) (models.WorkOrder, error) {
	var order models.WorkOrder
	var diagnosis, holdReason sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := row.Scan(
		&order.WorkOrderID, &order.AppointmentID, &order.AccountID, &order.VehicleID, &order.TechnicianID, &order.Status,
		&diagnosis, &holdReason, &startedAt, &endedAt, &order.TotalAmount, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WorkOrder{}, store.ErrWorkOrderNotFound
		}
		return models.WorkOrder{}, err
	}
	order.Diagnosis = diagnosis.String
	order.HoldReason = holdReason.String
	order.StartedAt = nullTimePtr(startedAt)
	order.EndedAt = nullTimePtr(endedAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// loadLines fills the service and part lines of order.
func loadLines(ctx context.Context, q querier, order *models.WorkOrder) error {
	order.Services = []models.ServiceDetail{}
	order.Parts = []models.PartUsage{}

	rows, err := q.Query(ctx, `
		SELECT line_id, service_id, quantity, unit_price, created_at
		FROM work_order_services
		WHERE work_order_id = $1
		ORDER BY created_at ASC, line_id ASC
	`, order.WorkOrderID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var line models.ServiceDetail
		if err := rows.Scan(&line.LineID, &line.ServiceID, &line.Quantity, &line.UnitPrice, &line.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		line.CreatedAt = line.CreatedAt.UTC()
		order.Services = append(order.Services, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT line_id, part_id, quantity, unit_price, suggested_by_tech, approved_by_staff, approved_by, created_at
		FROM work_order_parts
		WHERE work_order_id = $1
		ORDER BY created_at ASC, line_id ASC
	`, order.WorkOrderID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var part models.PartUsage
		var approvedBy sql.NullString
		if err := rows.Scan(&part.LineID, &part.PartID, &part.Quantity, &part.UnitPrice, &part.SuggestedByTech, &part.ApprovedByStaff, &approvedBy, &part.CreatedAt); err != nil {
			return err
		}
		part.ApprovedBy = nullStringPtr(approvedBy)
		part.CreatedAt = part.CreatedAt.UTC()
		order.Parts = append(order.Parts, part)
	}
	return rows.Err()
}

func getWorkOrder(ctx context.Context, q querier, query string, arg string) (models.WorkOrder, error) {
	order, err := scanWorkOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		return models.WorkOrder{}, err
	}
	if err := loadLines(ctx, q, &order); err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

func (s *Store) GetWorkOrder(ctx context.Context, workOrderID string) (models.WorkOrder, error) {
	if !validID(workOrderID) {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	return getWorkOrder(ctx, s.pool, `SELECT `+workOrderColumns+` FROM work_orders WHERE work_order_id = $1`, workOrderID)
}

func (s *Store) GetWorkOrderByAppointment(ctx context.Context, appointmentID string) (models.WorkOrder, error) {
	if !validID(appointmentID) {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	return getWorkOrder(ctx, s.pool, `SELECT `+workOrderColumns+` FROM work_orders WHERE appointment_id = $1`, appointmentID)
}

func (s *Store) ListWorkOrders(ctx context.Context, filter store.WorkOrderFilter) ([]models.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE TRUE`
	args := []any{}
	for column, value := range map[string]string{"technician_id": filter.TechnicianID, "account_id": filter.AccountID} {
		if value == "" {
			continue
		}
		if !validID(value) {
			return nil, nil
		}
		args = append(args, value)
		query += fmt.Sprintf(` AND %s = $%d`, column, len(args))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var orders []models.WorkOrder
	for rows.Next() {
		order, err := scanWorkOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if err := loadLines(ctx, s.pool, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// TransitionWorkOrder applies a status change only while the row still holds
// one of input.From. Completing the order completes its appointment too.
func (s *Store) TransitionWorkOrder(ctx context.Context, input store.WorkOrderTransitionInput) (models.WorkOrder, error) {
	if !validID(input.WorkOrderID) {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	if input.TechnicianID != "" && !validID(input.TechnicianID) {
		return models.WorkOrder{}, store.ErrForbidden
	}
	at := dbTime(input.OccurredAt)

	sets := []string{"status = $2", "updated_at = $3"}
	args := []any{input.WorkOrderID, input.To, at}
	eventType := ""
	switch input.To {
	case models.WorkOrderInProgress:
		sets = append(sets, "started_at = COALESCE(started_at, $3)", "hold_reason = NULL")
		eventType = store.EventWorkOrderStarted
	case models.WorkOrderOnHold:
		args = append(args, nullIfEmpty(input.Reason))
		sets = append(sets, fmt.Sprintf("hold_reason = $%d", len(args)))
		eventType = store.EventWorkOrderHeld
	case models.WorkOrderCompleted:
		sets = append(sets, "ended_at = $3")
		eventType = store.EventWorkOrderCompleted
	case models.WorkOrderCancelled:
		sets = append(sets, "ended_at = $3")
		eventType = store.EventWorkOrderCancelled
	default:
		return models.WorkOrder{}, stateError("work order target", input.To)
	}
	args = append(args, statusStrings(input.From))
	where := fmt.Sprintf("work_order_id = $1 AND status = ANY($%d)", len(args))
	if input.TechnicianID != "" {
		args = append(args, input.TechnicianID)
		where += fmt.Sprintf(" AND technician_id = $%d", len(args))
	}
	query := `UPDATE work_orders SET ` + strings.Join(sets, ", ") + ` WHERE ` + where + ` RETURNING ` + workOrderColumns

	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if input.To == models.WorkOrderCompleted {
			if err := lockAppointmentOf(ctx, tx, input.WorkOrderID); err != nil {
				return err
			}
		}
		var err error
		order, err = scanWorkOrder(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, store.ErrWorkOrderNotFound) {
			return workOrderStateError(ctx, tx, input.WorkOrderID, input.TechnicianID)
		}
		if err != nil {
			return err
		}
		if err := loadLines(ctx, tx, &order); err != nil {
			return err
		}
		if err := record(ctx, tx, order.WorkOrderID, order.AccountID, eventType, order, at); err != nil {
			return err
		}
		if input.To != models.WorkOrderCompleted {
			return nil
		}

		appointment, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2, updated_at = $3
			WHERE appointment_id = $1 AND status = ANY($4)
			RETURNING `+appointmentColumns,
			order.AppointmentID, models.AppointmentCompleted, at, statusStrings(store.AppointmentSources("complete"))))
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return record(ctx, tx, appointment.AppointmentID, appointment.AccountID, store.EventAppointmentCompleted, appointment, at)
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

// lockAppointmentOf locks the appointment behind a work order. Appointment rows
// are always locked before work order rows.
func lockAppointmentOf(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	var appointmentID string
	err := tx.QueryRow(ctx, `
		SELECT a.appointment_id
		FROM appointments a
		JOIN work_orders w ON w.appointment_id = a.appointment_id
		WHERE w.work_order_id = $1
		FOR UPDATE OF a
	`, workOrderID).Scan(&appointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// workOrderStateError explains why a conditional work order update matched nothing.
func workOrderStateError(ctx context.Context, tx pgx.Tx, workOrderID, technicianID string) error {
	var status models.WorkOrderStatus
	var assigned string
	err := tx.QueryRow(ctx, `SELECT status, technician_id FROM work_orders WHERE work_order_id = $1`, workOrderID).Scan(&status, &assigned)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrWorkOrderNotFound
	}
	if err != nil {
		return err
	}
	if technicianID != "" && assigned != technicianID {
		return store.ErrForbidden
	}
	return stateError("work order", status)
}

// lockMutable locks the order row and fails unless the order still accepts changes.
func lockMutable(ctx context.Context, tx pgx.Tx, workOrderID string) (models.WorkOrder, error) {
	if !validID(workOrderID) {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	order, err := scanWorkOrder(tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE work_order_id = $1 FOR UPDATE`, workOrderID))
	if err != nil {
		return models.WorkOrder{}, err
	}
	if !order.Status.Active() {
		return models.WorkOrder{}, store.ErrWorkOrderLocked
	}
	return order, nil
}

// refreshTotal recomputes the order total from its lines and records eventType.
func refreshTotal(ctx context.Context, tx pgx.Tx, workOrderID, eventType string, at time.Time) (models.WorkOrder, error) {
	order, err := scanWorkOrder(tx.QueryRow(ctx, `
		UPDATE work_orders
		SET total_amount =
				(SELECT COALESCE(SUM(quantity * unit_price), 0) FROM work_order_services WHERE work_order_id = $1) +
				(SELECT COALESCE(SUM(quantity * unit_price), 0) FROM work_order_parts WHERE work_order_id = $1),
			updated_at = $2
		WHERE work_order_id = $1
		RETURNING `+workOrderColumns,
		workOrderID, at))
	if err != nil {
		return models.WorkOrder{}, err
	}
	if err := loadLines(ctx, tx, &order); err != nil {
		return models.WorkOrder{}, err
	}
	if err := record(ctx, tx, order.WorkOrderID, order.AccountID, eventType, order, at); err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

func (s *Store) UpdateDiagnosis(ctx context.Context, input store.UpdateDiagnosisInput) (models.WorkOrder, error) {
	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMutable(ctx, tx, input.WorkOrderID)
		if err != nil {
			return err
		}
		if input.TechnicianID != "" && current.TechnicianID != input.TechnicianID {
			return store.ErrForbidden
		}
		at := dbTime(input.OccurredAt)
		if order, err = scanWorkOrder(tx.QueryRow(ctx, `
			UPDATE work_orders SET diagnosis = $2, updated_at = $3
			WHERE work_order_id = $1
			RETURNING `+workOrderColumns,
			current.WorkOrderID, input.Diagnosis, at)); err != nil {
			return err
		}
		if err := loadLines(ctx, tx, &order); err != nil {
			return err
		}
		return record(ctx, tx, order.WorkOrderID, order.AccountID, store.EventWorkOrderDiagnosis, order, at)
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

func (s *Store) AddServiceLine(ctx context.Context, input store.AddServiceLineInput) (models.WorkOrder, error) {
	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMutable(ctx, tx, input.WorkOrderID)
		if err != nil {
			return err
		}
		if !validID(input.ServiceID) {
			return store.ErrServiceNotFound
		}
		if err := requireRow(ctx, tx, `SELECT EXISTS (SELECT 1 FROM services WHERE service_id = $1)`, input.ServiceID, store.ErrServiceNotFound); err != nil {
			return err
		}
		at := dbTime(input.OccurredAt)
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_order_services (line_id, work_order_id, service_id, quantity, unit_price, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), current.WorkOrderID, input.ServiceID, input.Quantity, input.UnitPrice, nullIfEmpty(input.ActorID), at); err != nil {
			return err
		}
		order, err = refreshTotal(ctx, tx, current.WorkOrderID, store.EventWorkOrderLineAdded, at)
		return err
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

func (s *Store) AddPartUsage(ctx context.Context, input store.AddPartUsageInput) (models.WorkOrder, error) {
	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMutable(ctx, tx, input.WorkOrderID)
		if err != nil {
			return err
		}
		at := dbTime(input.OccurredAt)
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_order_parts (line_id, work_order_id, part_id, quantity, unit_price, suggested_by_tech, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), current.WorkOrderID, input.PartID, input.Quantity, input.UnitPrice, input.SuggestedByTech, nullIfEmpty(input.ActorID), at); err != nil {
			return err
		}
		order, err = refreshTotal(ctx, tx, current.WorkOrderID, store.EventWorkOrderPartAdded, at)
		return err
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}

func (s *Store) ApprovePartUsage(ctx context.Context, input store.ApprovePartInput) (models.WorkOrder, error) {
	var order models.WorkOrder
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMutable(ctx, tx, input.WorkOrderID)
		if err != nil {
			return err
		}
		if !validID(input.LineID) {
			return store.ErrLineNotFound
		}
		tag, err := tx.Exec(ctx, `
			UPDATE work_order_parts SET approved_by_staff = TRUE, approved_by = $3
			WHERE line_id = $1 AND work_order_id = $2
		`, input.LineID, current.WorkOrderID, nullIfEmpty(input.StaffID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrLineNotFound
		}
		order, err = refreshTotal(ctx, tx, current.WorkOrderID, store.EventWorkOrderPartOK, dbTime(input.OccurredAt))
		return err
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	return order, nil
}
