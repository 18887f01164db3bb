package models

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

type Appointment struct {
	AppointmentID string            `json:"appointment_id"`
	AccountID     string            `json:"account_id"`
	VehicleID     string            `json:"vehicle_id"`
	ServiceID     string            `json:"service_id"`
	SlotID        *string           `json:"slot_id,omitempty"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	Status        AppointmentStatus `json:"status"`
	TechnicianID  *string           `json:"technician_id,omitempty"`
	ConfirmedBy   *string           `json:"confirmed_by,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
}
