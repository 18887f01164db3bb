package store

import "github.com/khoi0903/ev-maintenance-app-sub001/internal/models"

const (
	ActionStart    = "start"
	ActionHold     = "hold"
	ActionComplete = "complete"
	ActionVoid     = "void"
)

var appointmentTransitions = map[string][]models.AppointmentStatus{
	"confirm":  {models.AppointmentPending},
	"cancel":   {models.AppointmentPending, models.AppointmentConfirmed},
	"complete": {models.AppointmentConfirmed},
}

var workOrderTransitions = map[string][]models.WorkOrderStatus{
	ActionStart:    {models.WorkOrderPending, models.WorkOrderOnHold},
	ActionHold:     {models.WorkOrderInProgress},
	ActionComplete: {models.WorkOrderInProgress},
	ActionVoid:     {models.WorkOrderPending, models.WorkOrderInProgress, models.WorkOrderOnHold},
}

var workOrderTargets = map[string]models.WorkOrderStatus{
	ActionStart:    models.WorkOrderInProgress,
	ActionHold:     models.WorkOrderOnHold,
	ActionComplete: models.WorkOrderCompleted,
	ActionVoid:     models.WorkOrderCancelled,
}

func ValidAppointmentTransition(action string, from models.AppointmentStatus) bool {
	return contains(appointmentTransitions[action], from)
}

func ValidWorkOrderTransition(action string, from models.WorkOrderStatus) bool {
	return contains(workOrderTransitions[action], from)
}

// AppointmentSources lists the statuses an action may start from.
func AppointmentSources(action string) []models.AppointmentStatus {
	return append([]models.AppointmentStatus(nil), appointmentTransitions[action]...)
}

func WorkOrderSources(action string) []models.WorkOrderStatus {
	return append([]models.WorkOrderStatus(nil), workOrderTransitions[action]...)
}

// WorkOrderActionFor maps a requested target status to the action reaching it.
func WorkOrderActionFor(target models.WorkOrderStatus) (string, bool) {
	for action, to := range workOrderTargets {
		if action == ActionVoid {
			continue
		}
		if to == target {
			return action, true
		}
	}
	return "", false
}

func WorkOrderTarget(action string) (models.WorkOrderStatus, bool) {
	to, ok := workOrderTargets[action]
	return to, ok
}

func contains[T comparable](items []T, value T) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
