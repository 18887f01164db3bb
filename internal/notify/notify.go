// Package notify derives the notification feed from lifecycle state.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

type Kind string

const (
	KindInfo   Kind = "info"
	KindAction Kind = "action"
)

type Item struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	EntityID  string    `json:"entity_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the lifecycle state visible to one account.
type Snapshot struct {
	Appointments []models.Appointment
	WorkOrders   []models.WorkOrder
	Invoices     []models.Invoice
}

type Viewer struct {
	AccountID string
	Role      models.Role
}

func AppointmentPendingKey(id string) string   { return fmt.Sprintf("appointment:%s:pending", id) }
func AppointmentConfirmedKey(id string) string { return fmt.Sprintf("appointment:%s:confirmed", id) }
func WorkOrderAssignedKey(id string) string    { return fmt.Sprintf("workorder:%s:assigned", id) }
func WorkOrderCompletedKey(id string) string   { return fmt.Sprintf("workorder:%s:completed", id) }
func PaymentRequiredKey(id string) string      { return fmt.Sprintf("invoice:%s:payment_required", id) }

// Aggregate builds the feed newest first. Informational items already seen are
// dropped; payment-required items stay until the invoice is paid.
func Aggregate(viewer Viewer, snap Snapshot, seen map[string]bool) []Item {
	items := make(map[string]Item)
	add := func(item Item) {
		if _, dup := items[item.Key]; dup {
			return
		}
		item.Seen = seen[item.Key]
		if item.Kind == KindInfo && item.Seen {
			return
		}
		items[item.Key] = item
	}

	customer := viewer.Role == models.RoleCustomer
	staff := viewer.Role.IsStaff()

	for _, appt := range snap.Appointments {
		mine := appt.AccountID == viewer.AccountID
		switch appt.Status {
		case models.AppointmentPending:
			if (customer && mine) || staff {
				add(Item{
					Key:       AppointmentPendingKey(appt.AppointmentID),
					Kind:      KindInfo,
					EntityID:  appt.AppointmentID,
					Title:     "Appointment awaiting confirmation",
					Message:   "Scheduled for " + appt.ScheduledAt.Format(time.RFC3339),
					CreatedAt: appt.CreatedAt,
				})
			}
		case models.AppointmentConfirmed:
			if customer && mine {
				at := appt.UpdatedAt
				if appt.ConfirmedAt != nil {
					at = *appt.ConfirmedAt
				}
				add(Item{
					Key:       AppointmentConfirmedKey(appt.AppointmentID),
					Kind:      KindInfo,
					EntityID:  appt.AppointmentID,
					Title:     "Appointment confirmed",
					Message:   "A technician has been assigned",
					CreatedAt: at,
				})
			}
		}
	}

	for _, order := range snap.WorkOrders {
		switch {
		case order.Status == models.WorkOrderPending && viewer.Role == models.RoleTechnician && order.TechnicianID == viewer.AccountID:
			add(Item{
				Key:       WorkOrderAssignedKey(order.WorkOrderID),
				Kind:      KindInfo,
				EntityID:  order.WorkOrderID,
				Title:     "New work order assigned",
				Message:   "Vehicle " + order.VehicleID,
				CreatedAt: order.CreatedAt,
			})
		case order.Status == models.WorkOrderCompleted && customer && order.AccountID == viewer.AccountID:
			at := order.UpdatedAt
			if order.EndedAt != nil {
				at = *order.EndedAt
			}
			add(Item{
				Key:       WorkOrderCompletedKey(order.WorkOrderID),
				Kind:      KindInfo,
				EntityID:  order.WorkOrderID,
				Title:     "Service completed",
				Message:   "Your vehicle is ready",
				CreatedAt: at,
			})
		}
	}

	for _, invoice := range snap.Invoices {
		if !customer || invoice.AccountID != viewer.AccountID {
			continue
		}
		if invoice.SentToCustomerAt == nil || invoice.PaymentStatus != models.PaymentUnpaid {
			continue
		}
		add(Item{
			Key:       PaymentRequiredKey(invoice.InvoiceID),
			Kind:      KindAction,
			EntityID:  invoice.InvoiceID,
			Title:     "Payment required",
			Message:   fmt.Sprintf("Invoice total %d", invoice.TotalAmount),
			CreatedAt: *invoice.SentToCustomerAt,
		})
	}

	result := make([]Item, 0, len(items))
	for _, item := range items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Key < result[j].Key
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func SeenSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set
}
