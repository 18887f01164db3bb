package models

import "time"

type WorkOrderStatus string

const (
	WorkOrderPending    WorkOrderStatus = "pending"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderOnHold     WorkOrderStatus = "on_hold"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	// WorkOrderCancelled is only reached when the owning appointment is cancelled.
	WorkOrderCancelled WorkOrderStatus = "cancelled"
)

// Active reports whether work may still happen on the order.
func (s WorkOrderStatus) Active() bool {
	return s == WorkOrderPending || s == WorkOrderInProgress || s == WorkOrderOnHold
}

type WorkOrder struct {
	WorkOrderID   string          `json:"work_order_id"`
	AppointmentID string          `json:"appointment_id"`
	AccountID     string          `json:"account_id"`
	VehicleID     string          `json:"vehicle_id"`
	TechnicianID  string          `json:"technician_id"`
	Status        WorkOrderStatus `json:"status"`
	Diagnosis     string          `json:"diagnosis,omitempty"`
	HoldReason    string          `json:"hold_reason,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	Services      []ServiceDetail `json:"services"`
	Parts         []PartUsage     `json:"parts"`
	TotalAmount   int64           `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ServiceDetail struct {
	LineID    string    `json:"line_id"`
	ServiceID string    `json:"service_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
}

func (d ServiceDetail) LineTotal() int64 {
	return int64(d.Quantity) * d.UnitPrice
}

type PartUsage struct {
	LineID          string    `json:"line_id"`
	PartID          string    `json:"part_id"`
	Quantity        int       `json:"quantity"`
	UnitPrice       int64     `json:"unit_price"`
	SuggestedByTech bool      `json:"suggested_by_tech"`
	ApprovedByStaff bool      `json:"approved_by_staff"`
	ApprovedBy      *string   `json:"approved_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (p PartUsage) LineTotal() int64 {
	return int64(p.Quantity) * p.UnitPrice
}

// ComputeTotal sums every service and part line.
func ComputeTotal(services []ServiceDetail, parts []PartUsage) int64 {
	var total int64
	for _, line := range services {
		total += line.LineTotal()
	}
	for _, line := range parts {
		total += line.LineTotal()
	}
	return total
}
