package worker

import (
	"regexp"
	"strconv"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type payloadData map[string]any

var templates = map[string]string{
	store.EventAppointmentCreated:   "Hi {name}, we received your booking for {scheduled_at}. We will confirm it shortly.",
	store.EventAppointmentConfirmed: "Hi {name}, your appointment on {scheduled_at} is confirmed.",
	store.EventAppointmentCancelled: "Hi {name}, your appointment on {scheduled_at} was cancelled. {cancel_reason}",
	store.EventWorkOrderStarted:     "Hi {name}, a technician has started working on your vehicle.",
	store.EventWorkOrderCompleted:   "Hi {name}, service on your vehicle is complete.",
	store.EventInvoiceSent:          "Hi {name}, invoice {invoice_id} for {total_amount} is ready for payment.",
	store.EventInvoicePaid:          "Hi {name}, we received payment for invoice {invoice_id}. Thank you.",
	store.EventPaymentFailed:        "Hi {name}, your payment of {amount} did not go through. {failure_reason}",
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

func templateFor(eventType string) (string, bool) {
	tmpl, ok := templates[eventType]
	return tmpl, ok
}

// renderTemplate fills {key} placeholders from the event payload. {name}
// comes from the contact. Unknown keys render empty.
func renderTemplate(tmpl string, payload payloadData, contact Contact) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		if key == "name" {
			if contact.FullName != "" {
				return contact.FullName
			}
			return "there"
		}
		return str(payload, key)
	})
}

func str(payload payloadData, key string) string {
	switch value := payload[key].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return ts.Format("2006-01-02 15:04 MST")
		}
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}
