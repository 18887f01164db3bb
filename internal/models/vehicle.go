package models

import "time"

type Vehicle struct {
	VehicleID     string    `json:"vehicle_id"`
	AccountID     string    `json:"account_id"`
	VIN           string    `json:"vin"`
	LicensePlate  string    `json:"license_plate"`
	Model         string    `json:"model"`
	Year          int       `json:"year"`
	Color         string    `json:"color,omitempty"`
	Mileage       int64     `json:"mileage"`
	BatteryHealth *float64  `json:"battery_health,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
