package lifecycle

import (
	"context"
	"strings"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/notify"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// Notifications loads the actor's visible state and derives the feed from it.
func (m *Manager) Notifications(ctx context.Context, actor auth.Actor) ([]notify.Item, error) {
	var snap notify.Snapshot
	var err error

	switch {
	case actor.Role == models.RoleCustomer:
		if snap.Appointments, err = m.store.ListAppointments(ctx, store.AppointmentFilter{AccountID: actor.AccountID}); err != nil {
			return nil, err
		}
		if snap.WorkOrders, err = m.store.ListWorkOrders(ctx, store.WorkOrderFilter{AccountID: actor.AccountID, Statuses: []models.WorkOrderStatus{models.WorkOrderCompleted}}); err != nil {
			return nil, err
		}
		if snap.Invoices, err = m.store.ListInvoices(ctx, store.InvoiceFilter{AccountID: actor.AccountID, UnpaidOnly: true}); err != nil {
			return nil, err
		}
	case actor.Role == models.RoleTechnician:
		if snap.WorkOrders, err = m.store.ListWorkOrders(ctx, store.WorkOrderFilter{TechnicianID: actor.AccountID, Statuses: []models.WorkOrderStatus{models.WorkOrderPending}}); err != nil {
			return nil, err
		}
	case actor.Role.IsStaff():
		if snap.Appointments, err = m.store.ListAppointments(ctx, store.AppointmentFilter{Statuses: []models.AppointmentStatus{models.AppointmentPending}}); err != nil {
			return nil, err
		}
	}

	keys, err := m.store.ListSeenKeys(ctx, actor.AccountID)
	if err != nil {
		return nil, err
	}
	return notify.Aggregate(notify.Viewer{AccountID: actor.AccountID, Role: actor.Role}, snap, notify.SeenSet(keys)), nil
}

// MarkNotificationsSeen is idempotent.
func (m *Manager) MarkNotificationsSeen(ctx context.Context, actor auth.Actor, keys []string) error {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if len(key) > 128 || strings.Count(key, ":") != 2 {
			return store.Invalid("keys", "malformed notification key")
		}
		cleaned = append(cleaned, key)
	}
	if len(cleaned) == 0 {
		return store.Invalid("keys", "required")
	}
	return m.store.MarkSeen(ctx, actor.AccountID, cleaned)
}
