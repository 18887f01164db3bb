package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type ServiceRequest struct {
	Name         string
	StandardCost int64
	Description  string
	Category     string
}

type SlotRequest struct {
	StartsAt time.Time
	EndsAt   time.Time
	Capacity int
}

func (m *Manager) CreateService(ctx context.Context, actor auth.Actor, req ServiceRequest) (models.Service, error) {
	if err := m.requireStaff(actor); err != nil {
		return models.Service{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Service{}, store.Invalid("name", "required")
	}
	if req.StandardCost < 0 {
		return models.Service{}, store.Invalid("standard_cost", "must not be negative")
	}
	return m.store.CreateService(ctx, store.CreateServiceInput{
		Name:         name,
		StandardCost: req.StandardCost,
		Description:  strings.TrimSpace(req.Description),
		Category:     strings.TrimSpace(req.Category),
	})
}

// ListServices returns the active catalog. Staff may ask for inactive entries too.
func (m *Manager) ListServices(ctx context.Context, actor auth.Actor, includeInactive bool) ([]models.Service, error) {
	return m.store.ListServices(ctx, !(includeInactive && actor.Role.IsStaff()))
}

// SetServiceActive deactivates or reactivates a catalog entry. Entries are never deleted.
func (m *Manager) SetServiceActive(ctx context.Context, actor auth.Actor, serviceID string, active bool) (models.Service, error) {
	if err := m.requireStaff(actor); err != nil {
		return models.Service{}, err
	}
	serviceID, err := requireID("service_id", serviceID)
	if err != nil {
		return models.Service{}, err
	}
	return m.store.SetServiceActive(ctx, serviceID, active)
}

func (m *Manager) CreateSlot(ctx context.Context, actor auth.Actor, req SlotRequest) (models.Slot, error) {
	if err := m.requireStaff(actor); err != nil {
		return models.Slot{}, err
	}
	if req.StartsAt.IsZero() {
		return models.Slot{}, store.Invalid("starts_at", "required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return models.Slot{}, store.Invalid("ends_at", "must be after starts_at")
	}
	if req.Capacity <= 0 {
		return models.Slot{}, store.Invalid("capacity", "must be positive")
	}
	return m.store.CreateSlot(ctx, store.CreateSlotInput{
		StartsAt: req.StartsAt.UTC(),
		EndsAt:   req.EndsAt.UTC(),
		Capacity: req.Capacity,
	})
}

// ListSlots returns slots starting in [from, to). A zero from means now.
func (m *Manager) ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error) {
	if from.IsZero() {
		from = m.now()
	}
	if !to.IsZero() && !to.After(from) {
		return nil, store.Invalid("to", "must be after from")
	}
	return m.store.ListSlots(ctx, from, to)
}
