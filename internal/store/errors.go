package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrGateway          = errors.New("payment gateway failure")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

var (
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrTechnicianNotFound  = fmt.Errorf("technician %w", ErrNotFound)
	ErrVehicleNotFound     = fmt.Errorf("vehicle %w", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrWorkOrderNotFound   = fmt.Errorf("work order %w", ErrNotFound)
	ErrLineNotFound        = fmt.Errorf("line item %w", ErrNotFound)
	ErrInvoiceNotFound     = fmt.Errorf("invoice %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("payment transaction %w", ErrNotFound)

	ErrUsernameTaken   = fmt.Errorf("username already registered: %w", ErrConflict)
	ErrDuplicateVIN    = fmt.Errorf("vin already registered: %w", ErrConflict)
	ErrSlotFull        = fmt.Errorf("slot is full: %w", ErrCapacityExceeded)
	ErrInvoiceExists   = fmt.Errorf("invoice already issued: %w", ErrInvalidState)
	ErrAlreadySettled  = fmt.Errorf("invoice already settled: %w", ErrInvalidState)
	ErrVehicleInUse    = fmt.Errorf("vehicle has active work orders: %w", ErrInvalidState)
	ErrWorkOrderLocked = fmt.Errorf("work order no longer accepts changes: %w", ErrInvalidState)
)

// ValidationError describes a single malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
