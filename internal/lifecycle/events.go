package lifecycle

import (
	"context"
	"errors"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type AuditTrail struct {
	EntityID string              `json:"entity_id"`
	Events   []store.EntityEvent `json:"events"`
	Verified bool                `json:"verified"`
}

// EntityEvents returns an entity's audit chain and whether it still verifies.
func (m *Manager) EntityEvents(ctx context.Context, actor auth.Actor, entityID string) (AuditTrail, error) {
	if err := m.requireStaff(actor); err != nil {
		return AuditTrail{}, err
	}
	entityID, err := requireID("entity_id", entityID)
	if err != nil {
		return AuditTrail{}, err
	}
	events, err := m.store.ListEntityEvents(ctx, entityID)
	if err != nil {
		return AuditTrail{}, err
	}
	if len(events) == 0 {
		return AuditTrail{}, store.ErrNotFound
	}
	verifyErr := store.VerifyChain(events)
	if verifyErr != nil && !errors.Is(verifyErr, store.ErrBrokenChain) {
		return AuditTrail{}, verifyErr
	}
	return AuditTrail{EntityID: entityID, Events: events, Verified: verifyErr == nil}, nil
}
