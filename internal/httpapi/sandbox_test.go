package httpapi

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
)

// sentInvoice drives one appointment through to an invoice awaiting payment.
func (f *apiFixture) sentInvoice(t *testing.T, customer string) models.Invoice {
	t.Helper()
	staff := f.token(t, f.staff)
	tech := f.token(t, f.tech)

	rec := f.do(t, http.MethodPost, "/api/vehicles", customer, map[string]any{"vin": "VF9SBX001", "model": "VF9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var vehicle models.Vehicle
	decodeResponse(t, rec, &vehicle)

	rec = f.do(t, http.MethodPost, "/api/services", staff, map[string]any{"name": "Brake service", "standard_cost": 150000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var service models.Service
	decodeResponse(t, rec, &service)

	rec = f.do(t, http.MethodPost, "/api/appointments", customer, map[string]any{
		"vehicle_id":   vehicle.VehicleID,
		"service_id":   service.ServiceID,
		"scheduled_at": "2026-11-03T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt models.Appointment
	decodeResponse(t, rec, &appt)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/confirm", staff, map[string]string{"technician_id": f.tech.AccountID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed confirmResponse
	decodeResponse(t, rec, &confirmed)
	orderID := confirmed.WorkOrder.WorkOrderID

	rec = f.do(t, http.MethodPatch, "/api/workorders/"+orderID+"/status", tech, map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/workorders/"+orderID+"/parts", tech, map[string]any{"part_id": "PAD-02", "quantity": 2, "unit_price": 90000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPatch, "/api/workorders/"+orderID+"/status", tech, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/invoices", staff, map[string]string{"work_order_id": orderID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invoice models.Invoice
	decodeResponse(t, rec, &invoice)

	rec = f.do(t, http.MethodPost, "/api/invoices/"+invoice.InvoiceID+"/send", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeResponse(t, rec, &invoice)
	require.Equal(t, int64(180000), invoice.TotalAmount)
	return invoice
}

func (f *apiFixture) checkout(t *testing.T, customer string, invoice models.Invoice) lifecycle.PaymentView {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/payments/checkout", customer, map[string]any{
		"invoice_id": invoice.InvoiceID, "amount": invoice.TotalAmount, "method": "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view lifecycle.PaymentView
	decodeResponse(t, rec, &view)
	require.NotEmpty(t, view.CheckoutURL)
	return view
}

func checkoutPath(t *testing.T, view lifecycle.PaymentView) string {
	t.Helper()
	u, err := url.Parse(view.CheckoutURL)
	require.NoError(t, err)
	return u.Path
}

func TestSandboxCheckoutPaysInvoice(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, customer := f.customer(t, "alice")
	invoice := f.sentInvoice(t, customer)
	view := f.checkout(t, customer, invoice)
	path := checkoutPath(t, view)
	assert.Equal(t, "/sandbox/checkout/sbx_"+view.TransactionID, path)

	rec := f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page sandboxCheckoutView
	decodeResponse(t, rec, &page)
	assert.Equal(t, view.TransactionID, page.TransactionID)
	assert.Equal(t, payment.OutcomePending, page.Outcome)

	rec = f.do(t, http.MethodPost, path, "", map[string]string{"status": "success"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid webhookResponse
	decodeResponse(t, rec, &paid)
	assert.Equal(t, models.TransactionSuccess, paid.Status)
	assert.Equal(t, models.PaymentPaid, paid.InvoiceStatus)

	rec = f.do(t, http.MethodGet, "/api/invoices/"+invoice.InvoiceID, customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeResponse(t, rec, &invoice)
	assert.Equal(t, models.PaymentPaid, invoice.PaymentStatus)

	rec = f.do(t, http.MethodPost, path, "", map[string]string{"status": "failed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSandboxCheckoutDeclined(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, customer := f.customer(t, "alice")
	invoice := f.sentInvoice(t, customer)
	path := checkoutPath(t, f.checkout(t, customer, invoice))

	rec := f.do(t, http.MethodPost, path, "", map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, path, "", map[string]string{"status": "failed", "reason": "card declined"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var declined webhookResponse
	decodeResponse(t, rec, &declined)
	assert.Equal(t, models.TransactionFailed, declined.Status)
	assert.NotEqual(t, models.PaymentPaid, declined.InvoiceStatus)
}

func TestSandboxCheckoutUnknownRef(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/sandbox/checkout/sbx_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/sandbox/checkout/not-a-ref", "", map[string]string{"status": "success"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSandboxRoutesAbsentWithoutSandbox(t *testing.T) {
	f := newAPIFixture(t, nil, func(o *Options) { o.Sandbox = nil })
	rec := f.do(t, http.MethodGet, "/sandbox/checkout/sbx_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/sandbox/checkout/sbx_missing", "", map[string]string{"status": "success"})
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code)
}
