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

const maxDiagnosisLength = 4000

type ServiceLineRequest struct {
	ServiceID string
	Quantity  int
	// UnitPrice defaults to the catalog standard cost when nil.
	UnitPrice *int64
}

type PartUsageRequest struct {
	PartID    string
	Quantity  int
	UnitPrice int64
}

func (m *Manager) StartWork(ctx context.Context, actor auth.Actor, workOrderID string) (models.WorkOrder, error) {
	return m.transition(ctx, actor, workOrderID, store.ActionStart, "")
}

func (m *Manager) Hold(ctx context.Context, actor auth.Actor, workOrderID, reason string) (models.WorkOrder, error) {
	return m.transition(ctx, actor, workOrderID, store.ActionHold, strings.TrimSpace(reason))
}

// Complete is terminal: no line, diagnosis or status change succeeds afterwards.
func (m *Manager) Complete(ctx context.Context, actor auth.Actor, workOrderID string) (models.WorkOrder, error) {
	return m.transition(ctx, actor, workOrderID, store.ActionComplete, "")
}

// ChangeStatus dispatches a requested target status to start, hold or complete.
func (m *Manager) ChangeStatus(ctx context.Context, actor auth.Actor, workOrderID string, status models.WorkOrderStatus, reason string) (models.WorkOrder, error) {
	action, ok := store.WorkOrderActionFor(status)
	if !ok {
		return models.WorkOrder{}, store.Invalid("status", "must be in_progress, on_hold or completed")
	}
	return m.transition(ctx, actor, workOrderID, action, strings.TrimSpace(reason))
}

func (m *Manager) transition(ctx context.Context, actor auth.Actor, workOrderID, action, reason string) (order models.WorkOrder, err error) {
	defer func() { m.observe("work_order", action, err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.WorkOrder{}, err
	}
	to, ok := store.WorkOrderTarget(action)
	if !ok {
		return models.WorkOrder{}, store.Invalid("status", "unknown transition")
	}
	current, err := m.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	subject := policy.Subject{Kind: policy.KindWorkOrder, OwnerID: current.AccountID, TechnicianID: current.TechnicianID}
	if err := m.authorize(actor, subject, string(current.Status), string(to)); err != nil {
		return models.WorkOrder{}, err
	}
	if !store.ValidWorkOrderTransition(action, current.Status) {
		return models.WorkOrder{}, fmt.Errorf("cannot %s work order in %s: %w", action, current.Status, store.ErrInvalidState)
	}

	order, err = m.store.TransitionWorkOrder(ctx, store.WorkOrderTransitionInput{
		WorkOrderID:  workOrderID,
		TechnicianID: actor.AccountID,
		From:         store.WorkOrderSources(action),
		To:           to,
		Reason:       reason,
		OccurredAt:   m.now(),
	})
	if err != nil {
		return models.WorkOrder{}, err
	}

	eventType := map[string]string{
		store.ActionStart:    store.EventWorkOrderStarted,
		store.ActionHold:     store.EventWorkOrderHeld,
		store.ActionComplete: store.EventWorkOrderCompleted,
	}[action]
	m.publish(eventType, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	if action == store.ActionComplete {
		m.publish(store.EventAppointmentCompleted, order.AppointmentID, order.AccountID, order.TechnicianID, nil)
	}
	return order, nil
}

func (m *Manager) AddServiceLine(ctx context.Context, actor auth.Actor, workOrderID string, req ServiceLineRequest) (order models.WorkOrder, err error) {
	defer func() { m.observe("work_order", "add_service_line", err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.WorkOrder{}, err
	}
	serviceID, err := requireID("service_id", req.ServiceID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	if req.Quantity <= 0 {
		return models.WorkOrder{}, store.Invalid("quantity", "must be positive")
	}
	if req.UnitPrice != nil && *req.UnitPrice < 0 {
		return models.WorkOrder{}, store.Invalid("unit_price", "must not be negative")
	}

	current, err := m.lineTarget(ctx, actor, workOrderID, policy.KindWorkOrderLine)
	if err != nil {
		return models.WorkOrder{}, err
	}
	service, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	price := service.StandardCost
	if req.UnitPrice != nil {
		price = *req.UnitPrice
	}

	order, err = m.store.AddServiceLine(ctx, store.AddServiceLineInput{
		WorkOrderID: current.WorkOrderID,
		ActorID:     actor.AccountID,
		ServiceID:   serviceID,
		Quantity:    req.Quantity,
		UnitPrice:   price,
		OccurredAt:  m.now(),
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	m.publish(store.EventWorkOrderLineAdded, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	return order, nil
}

func (m *Manager) AddPartUsage(ctx context.Context, actor auth.Actor, workOrderID string, req PartUsageRequest) (order models.WorkOrder, err error) {
	defer func() { m.observe("work_order", "add_part_usage", err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.WorkOrder{}, err
	}
	partID := strings.TrimSpace(req.PartID)
	if partID == "" {
		return models.WorkOrder{}, store.Invalid("part_id", "required")
	}
	if req.Quantity <= 0 {
		return models.WorkOrder{}, store.Invalid("quantity", "must be positive")
	}
	if req.UnitPrice < 0 {
		return models.WorkOrder{}, store.Invalid("unit_price", "must not be negative")
	}

	current, err := m.lineTarget(ctx, actor, workOrderID, policy.KindWorkOrderLine)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order, err = m.store.AddPartUsage(ctx, store.AddPartUsageInput{
		WorkOrderID:     current.WorkOrderID,
		ActorID:         actor.AccountID,
		PartID:          partID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		SuggestedByTech: actor.Role == models.RoleTechnician && actor.AccountID == current.TechnicianID,
		OccurredAt:      m.now(),
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	m.publish(store.EventWorkOrderPartAdded, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	return order, nil
}

// ApprovePartUsage flags a part line as staff approved. Prices are untouched.
func (m *Manager) ApprovePartUsage(ctx context.Context, actor auth.Actor, workOrderID, lineID string) (order models.WorkOrder, err error) {
	defer func() { m.observe("work_order", "approve_part", err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.WorkOrder{}, err
	}
	if lineID, err = requireID("line_id", lineID); err != nil {
		return models.WorkOrder{}, err
	}
	current, err := m.lineTarget(ctx, actor, workOrderID, policy.KindPartApproval)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order, err = m.store.ApprovePartUsage(ctx, store.ApprovePartInput{
		WorkOrderID: current.WorkOrderID,
		LineID:      lineID,
		StaffID:     actor.AccountID,
		OccurredAt:  m.now(),
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	m.publish(store.EventWorkOrderPartOK, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	return order, nil
}

func (m *Manager) UpdateDiagnosis(ctx context.Context, actor auth.Actor, workOrderID, diagnosis string) (order models.WorkOrder, err error) {
	defer func() { m.observe("work_order", "diagnosis", err) }()

	if workOrderID, err = requireID("work_order_id", workOrderID); err != nil {
		return models.WorkOrder{}, err
	}
	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		return models.WorkOrder{}, store.Invalid("diagnosis", "required")
	}
	if len(diagnosis) > maxDiagnosisLength {
		return models.WorkOrder{}, store.Invalid("diagnosis", "too long")
	}
	current, err := m.lineTarget(ctx, actor, workOrderID, policy.KindWorkOrderDiagnosis)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order, err = m.store.UpdateDiagnosis(ctx, store.UpdateDiagnosisInput{
		WorkOrderID:  current.WorkOrderID,
		TechnicianID: actor.AccountID,
		Diagnosis:    diagnosis,
		OccurredAt:   m.now(),
	})
	if err != nil {
		return models.WorkOrder{}, err
	}
	m.publish(store.EventWorkOrderDiagnosis, order.WorkOrderID, order.AccountID, order.TechnicianID, order)
	return order, nil
}

// lineTarget loads the order, applies policy for kind and rejects finished orders.
func (m *Manager) lineTarget(ctx context.Context, actor auth.Actor, workOrderID string, kind policy.Kind) (models.WorkOrder, error) {
	current, err := m.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	subject := policy.Subject{Kind: kind, OwnerID: current.AccountID, TechnicianID: current.TechnicianID}
	if err := m.authorize(actor, subject, policy.StateNone, policy.StateLine); err != nil {
		return models.WorkOrder{}, err
	}
	if !current.Status.Active() {
		return models.WorkOrder{}, store.ErrWorkOrderLocked
	}
	return current, nil
}

func (m *Manager) GetWorkOrder(ctx context.Context, actor auth.Actor, workOrderID string) (models.WorkOrder, error) {
	workOrderID, err := requireID("work_order_id", workOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order, err := m.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	if actor.Role.IsStaff() || order.AccountID == actor.AccountID || order.TechnicianID == actor.AccountID {
		return order, nil
	}
	return models.WorkOrder{}, fmt.Errorf("work order not visible: %w", store.ErrForbidden)
}

// MyWorkOrders lists the actor's active or completed work orders. Technicians
// see assignments, customers see their vehicles' orders, staff see everything.
func (m *Manager) MyWorkOrders(ctx context.Context, actor auth.Actor, completed bool) ([]models.WorkOrder, error) {
	filter := store.WorkOrderFilter{
		Statuses: []models.WorkOrderStatus{models.WorkOrderPending, models.WorkOrderInProgress, models.WorkOrderOnHold},
	}
	if completed {
		filter.Statuses = []models.WorkOrderStatus{models.WorkOrderCompleted}
	}
	switch {
	case actor.Role == models.RoleTechnician:
		filter.TechnicianID = actor.AccountID
	case actor.Role == models.RoleCustomer:
		filter.AccountID = actor.AccountID
	case actor.Role.IsStaff():
	default:
		return nil, fmt.Errorf("%s may not list work orders: %w", actor.Role, store.ErrForbidden)
	}
	return m.store.ListWorkOrders(ctx, filter)
}
