package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type VehicleRequest struct {
	AccountID     string
	VIN           string
	LicensePlate  string
	Model         string
	Year          int
	Color         string
	Mileage       int64
	BatteryHealth *float64
}

type VehicleUpdate struct {
	LicensePlate  *string
	Color         *string
	Mileage       *int64
	BatteryHealth *float64
}

// RegisterVehicle adds a vehicle. VINs are unique across all accounts.
func (m *Manager) RegisterVehicle(ctx context.Context, actor auth.Actor, req VehicleRequest) (models.Vehicle, error) {
	if req.AccountID == "" {
		req.AccountID = actor.AccountID
	}
	accountID, err := requireID("account_id", req.AccountID)
	if err != nil {
		return models.Vehicle{}, err
	}
	if err := m.authorize(actor, policy.Subject{Kind: policy.KindVehicle, OwnerID: accountID}, policy.StateNone, "registered"); err != nil {
		return models.Vehicle{}, err
	}
	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	if vin == "" || len(vin) > 17 {
		return models.Vehicle{}, store.Invalid("vin", "must be 1 to 17 characters")
	}
	if strings.TrimSpace(req.Model) == "" {
		return models.Vehicle{}, store.Invalid("model", "required")
	}
	if req.Year != 0 && (req.Year < 1990 || req.Year > m.now().Year()+1) {
		return models.Vehicle{}, store.Invalid("year", "out of range")
	}
	if req.Mileage < 0 {
		return models.Vehicle{}, store.Invalid("mileage", "must not be negative")
	}
	if err := checkBatteryHealth(req.BatteryHealth); err != nil {
		return models.Vehicle{}, err
	}
	return m.store.CreateVehicle(ctx, store.CreateVehicleInput{
		AccountID:     accountID,
		VIN:           vin,
		LicensePlate:  strings.TrimSpace(req.LicensePlate),
		Model:         strings.TrimSpace(req.Model),
		Year:          req.Year,
		Color:         strings.TrimSpace(req.Color),
		Mileage:       req.Mileage,
		BatteryHealth: req.BatteryHealth,
		CreatedAt:     m.now(),
	})
}

func (m *Manager) ListVehicles(ctx context.Context, actor auth.Actor, accountID string) ([]models.Vehicle, error) {
	if !actor.Role.IsStaff() {
		if actor.Role != models.RoleCustomer {
			return nil, fmt.Errorf("%s may not list vehicles: %w", actor.Role, store.ErrForbidden)
		}
		accountID = actor.AccountID
	}
	return m.store.ListVehicles(ctx, accountID)
}

func (m *Manager) GetVehicle(ctx context.Context, actor auth.Actor, vehicleID string) (models.Vehicle, error) {
	vehicleID, err := requireID("vehicle_id", vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	vehicle, err := m.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	if actor.Role.IsStaff() || actor.Role == models.RoleTechnician || vehicle.AccountID == actor.AccountID {
		return vehicle, nil
	}
	return models.Vehicle{}, fmt.Errorf("vehicle not visible: %w", store.ErrForbidden)
}

// UpdateVehicle edits mutable attributes. The VIN never changes.
func (m *Manager) UpdateVehicle(ctx context.Context, actor auth.Actor, vehicleID string, req VehicleUpdate) (models.Vehicle, error) {
	vehicle, err := m.ownedVehicle(ctx, actor, vehicleID, "updated")
	if err != nil {
		return models.Vehicle{}, err
	}
	if req.Mileage != nil && *req.Mileage < vehicle.Mileage {
		return models.Vehicle{}, store.Invalid("mileage", "cannot decrease")
	}
	if err := checkBatteryHealth(req.BatteryHealth); err != nil {
		return models.Vehicle{}, err
	}
	return m.store.UpdateVehicle(ctx, store.UpdateVehicleInput{
		VehicleID:     vehicle.VehicleID,
		LicensePlate:  req.LicensePlate,
		Color:         req.Color,
		Mileage:       req.Mileage,
		BatteryHealth: req.BatteryHealth,
	})
}

// DeleteVehicle refuses while any pending, in-progress or on-hold work order uses the vehicle.
func (m *Manager) DeleteVehicle(ctx context.Context, actor auth.Actor, vehicleID string) error {
	vehicle, err := m.ownedVehicle(ctx, actor, vehicleID, policy.StateDeleted)
	if err != nil {
		return err
	}
	return m.store.DeleteVehicle(ctx, vehicle.VehicleID)
}

func (m *Manager) ownedVehicle(ctx context.Context, actor auth.Actor, vehicleID, to string) (models.Vehicle, error) {
	vehicleID, err := requireID("vehicle_id", vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	vehicle, err := m.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	if err := m.authorize(actor, policy.Subject{Kind: policy.KindVehicle, OwnerID: vehicle.AccountID}, policy.StateNone, to); err != nil {
		return models.Vehicle{}, err
	}
	return vehicle, nil
}

func checkBatteryHealth(value *float64) error {
	if value != nil && (*value < 0 || *value > 100) {
		return store.Invalid("battery_health", "must be between 0 and 100")
	}
	return nil
}

