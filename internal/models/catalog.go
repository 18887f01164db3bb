package models

import "time"

// Service is a catalog entry. Entries are deactivated, never deleted.
type Service struct {
	ServiceID    string    `json:"service_id"`
	Name         string    `json:"name"`
	StandardCost int64     `json:"standard_cost"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Slot struct {
	SlotID   string    `json:"slot_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Capacity int       `json:"capacity"`
	Booked   int       `json:"booked"`
}

func (s Slot) Full() bool {
	return s.Booked >= s.Capacity
}
