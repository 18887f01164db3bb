// Package postgres implements the lifecycle store on PostgreSQL through pgx.
// Every mutation runs in one transaction together with its audit chain link
// and outbox row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const accountColumns = `account_id, username, password_hash, full_name, email, phone, role, status, created_at, updated_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	var email, phone sql.NullString
	if err := row.Scan(&account.AccountID, &account.Username, &account.PasswordHash, &account.FullName, &email, &phone, &account.Role, &account.Status, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, store.ErrAccountNotFound
		}
		return models.Account{}, err
	}
	account.Email = email.String
	account.Phone = phone.String
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func (s *Store) CreateAccount(ctx context.Context, input store.CreateAccountInput) (models.Account, error) {
	createdAt := dbTime(input.CreatedAt)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (account_id, username, password_hash, full_name, email, phone, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+accountColumns,
		uuid.NewString(), input.Username, input.PasswordHash, input.FullName, nullIfEmpty(input.Email), nullIfEmpty(input.Phone), input.Role, models.AccountActive, createdAt)
	account, err := scanAccount(row)
	if isUniqueViolation(err) {
		return models.Account{}, store.ErrUsernameTaken
	}
	return account, err
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	if !validID(accountID) {
		return models.Account{}, store.ErrAccountNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, accountID))
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower($1)`, username))
}

func (s *Store) ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	args := []any{}
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, input store.UpdateProfileInput) (models.Account, error) {
	if !validID(input.AccountID) {
		return models.Account{}, store.ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET full_name = COALESCE($2, full_name),
			email = CASE WHEN $3::text IS NULL THEN email ELSE NULLIF($3, '') END,
			phone = CASE WHEN $4::text IS NULL THEN phone ELSE NULLIF($4, '') END,
			updated_at = $5
		WHERE account_id = $1
		RETURNING `+accountColumns,
		input.AccountID, input.FullName, input.Email, input.Phone, dbTime(time.Time{}))
	return scanAccount(row)
}

func (s *Store) UpdateAccess(ctx context.Context, input store.UpdateAccessInput) (models.Account, error) {
	if !validID(input.AccountID) {
		return models.Account{}, store.ErrAccountNotFound
	}
	var role, status *string
	if input.Role != nil {
		value := string(*input.Role)
		role = &value
	}
	if input.Status != nil {
		value := string(*input.Status)
		status = &value
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET role = COALESCE($2, role), status = COALESCE($3, status), updated_at = $4
		WHERE account_id = $1
		RETURNING `+accountColumns,
		input.AccountID, role, status, dbTime(time.Time{}))
	return scanAccount(row)
}

const vehicleColumns = `vehicle_id, account_id, vin, license_plate, model, year, color, mileage, battery_health, created_at, updated_at`

func scanVehicle(row pgx.Row) (models.Vehicle, error) {
	var vehicle models.Vehicle
	var color sql.NullString
	var health sql.NullFloat64
	if err := row.Scan(&vehicle.VehicleID, &vehicle.AccountID, &vehicle.VIN, &vehicle.LicensePlate, &vehicle.Model, &vehicle.Year, &color, &vehicle.Mileage, &health, &vehicle.CreatedAt, &vehicle.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Vehicle{}, store.ErrVehicleNotFound
		}
		return models.Vehicle{}, err
	}
	vehicle.Color = color.String
	if health.Valid {
		vehicle.BatteryHealth = &health.Float64
	}
	vehicle.CreatedAt = vehicle.CreatedAt.UTC()
	vehicle.UpdatedAt = vehicle.UpdatedAt.UTC()
	return vehicle, nil
}

func (s *Store) CreateVehicle(ctx context.Context, input store.CreateVehicleInput) (models.Vehicle, error) {
	if !validID(input.AccountID) {
		return models.Vehicle{}, store.ErrAccountNotFound
	}
	var vehicle models.Vehicle
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_id = $1)`, input.AccountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrAccountNotFound
		}
		createdAt := dbTime(input.CreatedAt)
		row := tx.QueryRow(ctx, `
			INSERT INTO vehicles (vehicle_id, account_id, vin, license_plate, model, year, color, mileage, battery_health, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING `+vehicleColumns,
			uuid.NewString(), input.AccountID, input.VIN, input.LicensePlate, input.Model, input.Year, nullIfEmpty(input.Color), input.Mileage, input.BatteryHealth, createdAt)
		var err error
		vehicle, err = scanVehicle(row)
		if isUniqueViolation(err) {
			return store.ErrDuplicateVIN
		}
		return err
	})
	if err != nil {
		return models.Vehicle{}, err
	}
	return vehicle, nil
}

func (s *Store) GetVehicle(ctx context.Context, vehicleID string) (models.Vehicle, error) {
	if !validID(vehicleID) {
		return models.Vehicle{}, store.ErrVehicleNotFound
	}
	return scanVehicle(s.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE vehicle_id = $1`, vehicleID))
}

func (s *Store) ListVehicles(ctx context.Context, accountID string) ([]models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles`
	args := []any{}
	if accountID != "" {
		if !validID(accountID) {
			return nil, nil
		}
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, vehicle)
	}
	return vehicles, rows.Err()
}

func (s *Store) UpdateVehicle(ctx context.Context, input store.UpdateVehicleInput) (models.Vehicle, error) {
	if !validID(input.VehicleID) {
		return models.Vehicle{}, store.ErrVehicleNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE vehicles
		SET license_plate = COALESCE($2, license_plate),
			color = COALESCE($3, color),
			mileage = COALESCE($4, mileage),
			battery_health = COALESCE($5, battery_health),
			updated_at = $6
		WHERE vehicle_id = $1
		RETURNING `+vehicleColumns,
		input.VehicleID, input.LicensePlate, input.Color, input.Mileage, input.BatteryHealth, dbTime(time.Time{}))
	return scanVehicle(row)
}

// DeleteVehicle refuses while any work order on the vehicle is still active.
func (s *Store) DeleteVehicle(ctx context.Context, vehicleID string) error {
	if !validID(vehicleID) {
		return store.ErrVehicleNotFound
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT vehicle_id FROM vehicles WHERE vehicle_id = $1 FOR UPDATE`, vehicleID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrVehicleNotFound
		}
		if err != nil {
			return err
		}
		var active bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM work_orders WHERE vehicle_id = $1 AND status = ANY($2))
		`, vehicleID, activeWorkOrderStatuses()).Scan(&active); err != nil {
			return err
		}
		if active {
			return store.ErrVehicleInUse
		}
		_, err = tx.Exec(ctx, `DELETE FROM vehicles WHERE vehicle_id = $1`, vehicleID)
		return err
	})
}

const serviceColumns = `service_id, name, standard_cost, description, category, active, created_at`

func scanService(row pgx.Row) (models.Service, error) {
	var service models.Service
	var description, category sql.NullString
	if err := row.Scan(&service.ServiceID, &service.Name, &service.StandardCost, &description, &category, &service.Active, &service.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	service.Description = description.String
	service.Category = category.String
	service.CreatedAt = service.CreatedAt.UTC()
	return service, nil
}

func (s *Store) CreateService(ctx context.Context, input store.CreateServiceInput) (models.Service, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO services (service_id, name, standard_cost, description, category, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING `+serviceColumns,
		uuid.NewString(), input.Name, input.StandardCost, nullIfEmpty(input.Description), nullIfEmpty(input.Category), dbTime(time.Time{}))
	return scanService(row)
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	if !validID(serviceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	return scanService(s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE service_id = $1`, serviceID))
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

func (s *Store) SetServiceActive(ctx context.Context, serviceID string, active bool) (models.Service, error) {
	if !validID(serviceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	row := s.pool.QueryRow(ctx, `UPDATE services SET active = $2 WHERE service_id = $1 RETURNING `+serviceColumns, serviceID, active)
	return scanService(row)
}

const slotColumns = `slot_id, starts_at, ends_at, capacity, booked`

func scanSlot(row pgx.Row) (models.Slot, error) {
	var slot models.Slot
	if err := row.Scan(&slot.SlotID, &slot.StartsAt, &slot.EndsAt, &slot.Capacity, &slot.Booked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Slot{}, store.ErrSlotNotFound
		}
		return models.Slot{}, err
	}
	slot.StartsAt = slot.StartsAt.UTC()
	slot.EndsAt = slot.EndsAt.UTC()
	return slot, nil
}

func (s *Store) CreateSlot(ctx context.Context, input store.CreateSlotInput) (models.Slot, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO slots (slot_id, starts_at, ends_at, capacity, booked)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING `+slotColumns,
		uuid.NewString(), dbTime(input.StartsAt), dbTime(input.EndsAt), input.Capacity)
	return scanSlot(row)
}

func (s *Store) GetSlot(ctx context.Context, slotID string) (models.Slot, error) {
	if !validID(slotID) {
		return models.Slot{}, store.ErrSlotNotFound
	}
	return scanSlot(s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE slot_id = $1`, slotID))
}

func (s *Store) ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE starts_at >= $1`
	args := []any{from}
	if !to.IsZero() {
		query += ` AND starts_at < $2`
		args = append(args, to)
	}
	query += ` ORDER BY starts_at ASC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *Store) ListSeenKeys(ctx context.Context, accountID string) ([]string, error) {
	if !validID(accountID) {
		return []string{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT key FROM notification_seen WHERE account_id = $1 ORDER BY key`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) MarkSeen(ctx context.Context, accountID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if !validID(accountID) {
		return store.ErrAccountNotFound
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_seen (account_id, key, seen_at)
		SELECT $1::uuid, key, now() FROM unnest($2::text[]) AS key
		ON CONFLICT (account_id, key) DO NOTHING
	`, accountID, keys)
	return err
}

func activeWorkOrderStatuses() []string {
	return []string{string(models.WorkOrderPending), string(models.WorkOrderInProgress), string(models.WorkOrderOnHold)}
}

func statusStrings[T ~string](statuses []T) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// validID guards uuid columns so malformed path ids read as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolation
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	at := value.Time.UTC()
	return &at
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
