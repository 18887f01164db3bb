package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

func (s *Store) GetWorkOrder(ctx context.Context, workOrderID string) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.workOrders[workOrderID]
	if !ok {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	return cloneWorkOrder(order), nil
}

func (s *Store) GetWorkOrderByAppointment(ctx context.Context, appointmentID string) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.workOrders {
		if order.AppointmentID == appointmentID {
			return cloneWorkOrder(order), nil
		}
	}
	return models.WorkOrder{}, store.ErrWorkOrderNotFound
}

func (s *Store) ListWorkOrders(ctx context.Context, filter store.WorkOrderFilter) ([]models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.WorkOrder
	for _, order := range s.workOrders {
		if filter.TechnicianID != "" && order.TechnicianID != filter.TechnicianID {
			continue
		}
		if filter.AccountID != "" && order.AccountID != filter.AccountID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, order.Status) {
			continue
		}
		orders = append(orders, cloneWorkOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt.After(orders[j].UpdatedAt) })
	return orders, nil
}

func (s *Store) TransitionWorkOrder(ctx context.Context, input store.WorkOrderTransitionInput) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.workOrders[input.WorkOrderID]
	if !ok {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	if input.TechnicianID != "" && order.TechnicianID != input.TechnicianID {
		return models.WorkOrder{}, store.ErrForbidden
	}
	if !hasStatus(input.From, order.Status) {
		return models.WorkOrder{}, stateError("work order", order.Status)
	}

	at := input.OccurredAt
	order.Status = input.To
	order.UpdatedAt = at
	eventType := ""
	switch input.To {
	case models.WorkOrderInProgress:
		if order.StartedAt == nil {
			order.StartedAt = &at
		}
		order.HoldReason = ""
		eventType = store.EventWorkOrderStarted
	case models.WorkOrderOnHold:
		order.HoldReason = input.Reason
		eventType = store.EventWorkOrderHeld
	case models.WorkOrderCompleted:
		order.EndedAt = &at
		eventType = store.EventWorkOrderCompleted
	case models.WorkOrderCancelled:
		order.EndedAt = &at
		eventType = store.EventWorkOrderCancelled
	}
	s.workOrders[order.WorkOrderID] = order
	s.record(order.WorkOrderID, eventType, order, at)

	if input.To == models.WorkOrderCompleted {
		if appointment, ok := s.appointments[order.AppointmentID]; ok && store.ValidAppointmentTransition("complete", appointment.Status) {
			appointment.Status = models.AppointmentCompleted
			appointment.UpdatedAt = at
			s.appointments[appointment.AppointmentID] = appointment
			s.record(appointment.AppointmentID, store.EventAppointmentCompleted, appointment, at)
		}
	}
	return cloneWorkOrder(order), nil
}

func (s *Store) UpdateDiagnosis(ctx context.Context, input store.UpdateDiagnosisInput) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.mutableWorkOrder(input.WorkOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	if input.TechnicianID != "" && order.TechnicianID != input.TechnicianID {
		return models.WorkOrder{}, store.ErrForbidden
	}
	order.Diagnosis = input.Diagnosis
	order.UpdatedAt = input.OccurredAt
	s.workOrders[order.WorkOrderID] = order
	s.record(order.WorkOrderID, store.EventWorkOrderDiagnosis, order, input.OccurredAt)
	return cloneWorkOrder(order), nil
}

func (s *Store) AddServiceLine(ctx context.Context, input store.AddServiceLineInput) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.mutableWorkOrder(input.WorkOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	if _, ok := s.services[input.ServiceID]; !ok {
		return models.WorkOrder{}, store.ErrServiceNotFound
	}
	order = cloneWorkOrder(order)
	order.Services = append(order.Services, models.ServiceDetail{
		LineID:    uuid.NewString(),
		ServiceID: input.ServiceID,
		Quantity:  input.Quantity,
		UnitPrice: input.UnitPrice,
		CreatedAt: input.OccurredAt,
	})
	order.TotalAmount = models.ComputeTotal(order.Services, order.Parts)
	order.UpdatedAt = input.OccurredAt
	s.workOrders[order.WorkOrderID] = order
	s.record(order.WorkOrderID, store.EventWorkOrderLineAdded, order, input.OccurredAt)
	return cloneWorkOrder(order), nil
}

func (s *Store) AddPartUsage(ctx context.Context, input store.AddPartUsageInput) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.mutableWorkOrder(input.WorkOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order = cloneWorkOrder(order)
	order.Parts = append(order.Parts, models.PartUsage{
		LineID:          uuid.NewString(),
		PartID:          input.PartID,
		Quantity:        input.Quantity,
		UnitPrice:       input.UnitPrice,
		SuggestedByTech: input.SuggestedByTech,
		CreatedAt:       input.OccurredAt,
	})
	order.TotalAmount = models.ComputeTotal(order.Services, order.Parts)
	order.UpdatedAt = input.OccurredAt
	s.workOrders[order.WorkOrderID] = order
	s.record(order.WorkOrderID, store.EventWorkOrderPartAdded, order, input.OccurredAt)
	return cloneWorkOrder(order), nil
}

func (s *Store) ApprovePartUsage(ctx context.Context, input store.ApprovePartInput) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.mutableWorkOrder(input.WorkOrderID)
	if err != nil {
		return models.WorkOrder{}, err
	}
	order = cloneWorkOrder(order)
	found := false
	for i := range order.Parts {
		if order.Parts[i].LineID != input.LineID {
			continue
		}
		staffID := input.StaffID
		order.Parts[i].ApprovedByStaff = true
		order.Parts[i].ApprovedBy = &staffID
		found = true
	}
	if !found {
		return models.WorkOrder{}, store.ErrLineNotFound
	}
	order.UpdatedAt = input.OccurredAt
	s.workOrders[order.WorkOrderID] = order
	s.record(order.WorkOrderID, store.EventWorkOrderPartOK, order, input.OccurredAt)
	return cloneWorkOrder(order), nil
}

// mutableWorkOrder returns the order only while it still accepts line changes.
func (s *Store) mutableWorkOrder(workOrderID string) (models.WorkOrder, error) {
	order, ok := s.workOrders[workOrderID]
	if !ok {
		return models.WorkOrder{}, store.ErrWorkOrderNotFound
	}
	if !order.Status.Active() {
		return models.WorkOrder{}, store.ErrWorkOrderLocked
	}
	return order, nil
}

func cloneWorkOrder(order models.WorkOrder) models.WorkOrder {
	order.Services = append([]models.ServiceDetail{}, order.Services...)
	order.Parts = append([]models.PartUsage{}, order.Parts...)
	return order
}
