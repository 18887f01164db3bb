package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCompleted = "appointment.completed"
	EventWorkOrderCreated     = "workorder.created"
	EventWorkOrderStarted     = "workorder.started"
	EventWorkOrderHeld        = "workorder.held"
	EventWorkOrderCompleted   = "workorder.completed"
	EventWorkOrderCancelled   = "workorder.cancelled"
	EventWorkOrderLineAdded   = "workorder.line_added"
	EventWorkOrderPartAdded   = "workorder.part_added"
	EventWorkOrderPartOK      = "workorder.part_approved"
	EventWorkOrderDiagnosis   = "workorder.diagnosis_updated"
	EventInvoiceIssued        = "invoice.issued"
	EventInvoiceSent          = "invoice.sent"
	EventInvoicePaid          = "invoice.paid"
	EventPaymentCreated       = "payment.created"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
)

var ErrBrokenChain = errors.New("entity event chain is broken")

// EntityEvent is one link in the per-entity audit chain.
type EntityEvent struct {
	EntityID  string          `json:"entity_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeEventHash(prevHash, entityID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entityID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// ChainEvent builds the next link after prev. A nil prev starts the chain at seq 1.
func ChainEvent(prev *EntityEvent, entityID, eventType string, payload json.RawMessage, createdAt time.Time) EntityEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	return EntityEvent{
		EntityID:  entityID,
		Seq:       seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeEventHash(prevHash, entityID, eventType, payload, createdAt, seq),
	}
}

// VerifyChain checks sequence continuity and every hash link, in order.
func VerifyChain(events []EntityEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrBrokenChain, event.Seq, i)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrBrokenChain, event.Seq)
		}
		want := ComputeEventHash(event.PrevHash, event.EntityID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != want {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrBrokenChain, event.Seq)
		}
		prevHash = event.Hash
	}
	return nil
}
