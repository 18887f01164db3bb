// Package memory keeps every entity in process memory behind one mutex.
// Conditional updates behave exactly like the postgres store, so the
// lifecycle managers can run against either.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type Store struct {
	mu sync.Mutex

	accounts     map[string]models.Account
	vehicles     map[string]models.Vehicle
	services     map[string]models.Service
	slots        map[string]models.Slot
	appointments map[string]models.Appointment
	workOrders   map[string]models.WorkOrder
	invoices     map[string]models.Invoice
	payments     map[string]models.PaymentTransaction
	// settlements holds one entry per paid invoice.
	settlements map[string]models.SettlementVia
	seen        map[string]map[string]struct{}
	events      map[string][]store.EntityEvent
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     map[string]models.Account{},
		vehicles:     map[string]models.Vehicle{},
		services:     map[string]models.Service{},
		slots:        map[string]models.Slot{},
		appointments: map[string]models.Appointment{},
		workOrders:   map[string]models.WorkOrder{},
		invoices:     map[string]models.Invoice{},
		payments:     map[string]models.PaymentTransaction{},
		settlements:  map[string]models.SettlementVia{},
		seen:         map[string]map[string]struct{}{},
		events:       map[string][]store.EntityEvent{},
	}
}

// record appends an audit link. Callers hold s.mu.
func (s *Store) record(entityID, eventType string, entity any, at time.Time) {
	payload, err := json.Marshal(entity)
	if err != nil {
		payload = json.RawMessage(`{}`)
	}
	chain := s.events[entityID]
	var prev *store.EntityEvent
	if len(chain) > 0 {
		prev = &chain[len(chain)-1]
	}
	s.events[entityID] = append(chain, store.ChainEvent(prev, entityID, eventType, payload, at))
}

func (s *Store) CreateAccount(ctx context.Context, input store.CreateAccountInput) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, input.Username) {
			return models.Account{}, store.ErrUsernameTaken
		}
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	account := models.Account{
		AccountID:    uuid.NewString(),
		Username:     input.Username,
		PasswordHash: input.PasswordHash,
		FullName:     input.FullName,
		Email:        input.Email,
		Phone:        input.Phone,
		Role:         input.Role,
		Status:       models.AccountActive,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	s.accounts[account.AccountID] = account
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return models.Account{}, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Username, username) {
			return account, nil
		}
	}
	return models.Account{}, store.ErrAccountNotFound
}

func (s *Store) ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []models.Account
	for _, account := range s.accounts {
		if role != "" && account.Role != role {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (s *Store) UpdateProfile(ctx context.Context, input store.UpdateProfileInput) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[input.AccountID]
	if !ok {
		return models.Account{}, store.ErrAccountNotFound
	}
	if input.FullName != nil {
		account.FullName = *input.FullName
	}
	if input.Email != nil {
		account.Email = *input.Email
	}
	if input.Phone != nil {
		account.Phone = *input.Phone
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.AccountID] = account
	return account, nil
}

func (s *Store) UpdateAccess(ctx context.Context, input store.UpdateAccessInput) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[input.AccountID]
	if !ok {
		return models.Account{}, store.ErrAccountNotFound
	}
	if input.Role != nil {
		account.Role = *input.Role
	}
	if input.Status != nil {
		account.Status = *input.Status
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.AccountID] = account
	return account, nil
}

func (s *Store) CreateVehicle(ctx context.Context, input store.CreateVehicleInput) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[input.AccountID]; !ok {
		return models.Vehicle{}, store.ErrAccountNotFound
	}
	for _, existing := range s.vehicles {
		if strings.EqualFold(existing.VIN, input.VIN) {
			return models.Vehicle{}, store.ErrDuplicateVIN
		}
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	vehicle := models.Vehicle{
		VehicleID:     uuid.NewString(),
		AccountID:     input.AccountID,
		VIN:           input.VIN,
		LicensePlate:  input.LicensePlate,
		Model:         input.Model,
		Year:          input.Year,
		Color:         input.Color,
		Mileage:       input.Mileage,
		BatteryHealth: input.BatteryHealth,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	s.vehicles[vehicle.VehicleID] = vehicle
	return vehicle, nil
}

func (s *Store) GetVehicle(ctx context.Context, vehicleID string) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, ok := s.vehicles[vehicleID]
	if !ok {
		return models.Vehicle{}, store.ErrVehicleNotFound
	}
	return vehicle, nil
}

func (s *Store) ListVehicles(ctx context.Context, accountID string) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vehicles []models.Vehicle
	for _, vehicle := range s.vehicles {
		if accountID != "" && vehicle.AccountID != accountID {
			continue
		}
		vehicles = append(vehicles, vehicle)
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].CreatedAt.Before(vehicles[j].CreatedAt) })
	return vehicles, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, input store.UpdateVehicleInput) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, ok := s.vehicles[input.VehicleID]
	if !ok {
		return models.Vehicle{}, store.ErrVehicleNotFound
	}
	if input.LicensePlate != nil {
		vehicle.LicensePlate = *input.LicensePlate
	}
	if input.Color != nil {
		vehicle.Color = *input.Color
	}
	if input.Mileage != nil {
		vehicle.Mileage = *input.Mileage
	}
	if input.BatteryHealth != nil {
		health := *input.BatteryHealth
		vehicle.BatteryHealth = &health
	}
	vehicle.UpdatedAt = time.Now().UTC()
	s.vehicles[vehicle.VehicleID] = vehicle
	return vehicle, nil
}

func (s *Store) DeleteVehicle(ctx context.Context, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[vehicleID]; !ok {
		return store.ErrVehicleNotFound
	}
	for _, order := range s.workOrders {
		if order.VehicleID == vehicleID && order.Status.Active() {
			return store.ErrVehicleInUse
		}
	}
	delete(s.vehicles, vehicleID)
	return nil
}

func (s *Store) CreateService(ctx context.Context, input store.CreateServiceInput) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	service := models.Service{
		ServiceID:    uuid.NewString(),
		Name:         input.Name,
		StandardCost: input.StandardCost,
		Description:  input.Description,
		Category:     input.Category,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	s.services[service.ServiceID] = service
	return service, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var services []models.Service
	for _, service := range s.services {
		if activeOnly && !service.Active {
			continue
		}
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func (s *Store) SetServiceActive(ctx context.Context, serviceID string, active bool) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	service.Active = active
	s.services[serviceID] = service
	return service, nil
}

func (s *Store) CreateSlot(ctx context.Context, input store.CreateSlotInput) (models.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := models.Slot{
		SlotID:   uuid.NewString(),
		StartsAt: input.StartsAt,
		EndsAt:   input.EndsAt,
		Capacity: input.Capacity,
	}
	s.slots[slot.SlotID] = slot
	return slot, nil
}

func (s *Store) GetSlot(ctx context.Context, slotID string) (models.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return models.Slot{}, store.ErrSlotNotFound
	}
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slots []models.Slot
	for _, slot := range s.slots {
		if slot.StartsAt.Before(from) {
			continue
		}
		if !to.IsZero() && !slot.StartsAt.Before(to) {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })
	return slots, nil
}

func (s *Store) ListSeenKeys(ctx context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.seen[accountID]))
	for key := range s.seen[accountID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) MarkSeen(ctx context.Context, accountID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.seen[accountID]
	if !ok {
		set = map[string]struct{}{}
		s.seen[accountID] = set
	}
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return nil
}

func (s *Store) ListEntityEvents(ctx context.Context, entityID string) ([]store.EntityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]store.EntityEvent(nil), s.events[entityID]...), nil
}

func stateError(entity string, status any) error {
	return fmt.Errorf("%s is %v: %w", entity, status, store.ErrInvalidState)
}
