package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/realtime"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store/memory"
)

const testWebhookSecret = "whsec_test"

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *responseError  `json:"error"`
}

type apiFixture struct {
	routes  http.Handler
	manager *lifecycle.Manager
	tokens  *auth.TokenIssuer
	hub     *realtime.Hub
	sandbox *payment.Sandbox
	admin   models.Account
	staff   models.Account
	tech    models.Account
}

func newAPIFixture(t *testing.T, limiter *RateLimiter, configure ...func(*Options)) *apiFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	hub := realtime.New(nil)
	sandbox := payment.NewSandbox("http://api.test/sandbox")
	manager := lifecycle.New(st, lifecycle.Options{
		Gateway:        sandbox,
		Publisher:      hub,
		GatewayTimeout: 50 * time.Millisecond,
	})
	tokens := auth.NewTokenIssuer("test-secret", "ev-maintenance", time.Hour)
	if limiter == nil {
		limiter = NewRateLimiter(RateLimitConfig{IPPerMinute: 6000, IPBurst: 1000, AccountPerMinute: 6000, AccountBurst: 1000})
	}
	reg := prometheus.NewRegistry()
	opts := Options{
		Manager:       manager,
		Accounts:      st,
		Tokens:        tokens,
		Hub:           hub,
		Limiter:       limiter,
		Metrics:       NewHTTPMetrics(reg),
		Gatherer:      reg,
		WebhookSecret: testWebhookSecret,
		Sandbox:       sandbox,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h := NewHandler(opts)

	_, err := manager.EnsureAdmin(ctx, "admin", "admin-pass")
	require.NoError(t, err)
	admin, err := manager.Authenticate(ctx, "admin", "admin-pass")
	require.NoError(t, err)
	adminActor := auth.ActorOf(admin)
	staff, err := manager.CreateAccount(ctx, adminActor, lifecycle.AccountRequest{Username: "staff1", Password: "staff-pass", Role: models.RoleStaff})
	require.NoError(t, err)
	tech, err := manager.CreateAccount(ctx, adminActor, lifecycle.AccountRequest{Username: "tech1", Password: "tech-pass", Role: models.RoleTechnician})
	require.NoError(t, err)

	return &apiFixture{routes: h.Routes(), manager: manager, tokens: tokens, hub: hub, sandbox: sandbox, admin: admin, staff: staff, tech: tech}
}

func (f *apiFixture) token(t *testing.T, account models.Account) string {
	t.Helper()
	token, _, err := f.tokens.Issue(account)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func (f *apiFixture) customer(t *testing.T, username string) (models.Account, string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "password": "secret-pass", "full_name": "Test Customer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var account models.Account
	decodeResponse(t, rec, &account)
	return account, f.token(t, account)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec, nil).Success)
}

func TestLoginAndMe(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.customer(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "Alice", "password": "secret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login loginResponse
	decodeResponse(t, rec, &login)
	assert.Equal(t, "Bearer", login.TokenType)
	assert.NotEmpty(t, login.Token)

	rec = f.do(t, http.MethodGet, "/api/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.Account
	decodeResponse(t, rec, &me)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, models.RoleCustomer, me.Role)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.customer(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingTokenUnauthorized(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/vehicles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/vehicles", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec, nil)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)
}

func TestValidationDetails(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "ab", "password": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation_error", resp.Error.Code)
	fields := map[string]bool{}
	for _, d := range resp.Error.Details {
		fields[d.Field] = true
	}
	assert.True(t, fields["username"])
	assert.True(t, fields["password"])

	rec = f.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"bob","password":"secret-pass","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields must be rejected")

	rec = f.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"bob"}{"username":"eve"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicateVINConflict(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, token := f.customer(t, "alice")
	vehicle := map[string]any{"vin": "VF8ABC123", "model": "VF8", "license_plate": "51K-123.45"}

	rec := f.do(t, http.MethodPost, "/api/vehicles", token, vehicle)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/vehicles", token, vehicle)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "conflict", resp.Error.Code)
	assert.Equal(t, "vin already registered", resp.Error.Message)
}

func TestCustomerCannotManageCatalog(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, token := f.customer(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/services", token, map[string]any{"name": "Tyre rotation", "standard_cost": 150000})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "forbidden", resp.Error.Code)
}

func TestMaintenanceFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, customer := f.customer(t, "alice")
	staff := f.token(t, f.staff)
	tech := f.token(t, f.tech)

	rec := f.do(t, http.MethodPost, "/api/vehicles", customer, map[string]any{"vin": "VF8ABC123", "model": "VF8"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var vehicle models.Vehicle
	decodeResponse(t, rec, &vehicle)

	rec = f.do(t, http.MethodPost, "/api/services", staff, map[string]any{"name": "Battery check", "standard_cost": 200000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var service models.Service
	decodeResponse(t, rec, &service)

	rec = f.do(t, http.MethodPost, "/api/appointments", customer, map[string]any{
		"vehicle_id":   vehicle.VehicleID,
		"service_id":   service.ServiceID,
		"scheduled_at": "2026-11-02T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt models.Appointment
	decodeResponse(t, rec, &appt)
	assert.Equal(t, models.AppointmentPending, appt.Status)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/confirm", staff, map[string]string{"technician_id": f.tech.AccountID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed confirmResponse
	decodeResponse(t, rec, &confirmed)
	orderID := confirmed.WorkOrder.WorkOrderID
	require.NotEmpty(t, orderID)

	rec = f.do(t, http.MethodPost, "/api/appointments/"+appt.AppointmentID+"/confirm", staff, map[string]string{"technician_id": f.tech.AccountID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/workorders/"+orderID+"/status", tech, map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/workorders/"+orderID+"/parts", tech, map[string]any{"part_id": "BAT-01", "quantity": 1, "unit_price": 300000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodGet, "/api/workorders/my/active", tech, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPatch, "/api/workorders/"+orderID+"/status", tech, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPut, "/api/workorders/"+orderID+"/diagnosis", tech, map[string]string{"diagnosis": "late note"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/invoices", staff, map[string]string{"work_order_id": orderID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invoice models.Invoice
	decodeResponse(t, rec, &invoice)
	assert.Equal(t, int64(300000), invoice.TotalAmount)

	rec = f.do(t, http.MethodPost, "/api/invoices/"+invoice.InvoiceID+"/send", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/notifications", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment_required")

	rec = f.do(t, http.MethodPost, "/api/payments/checkout", customer, map[string]any{"invoice_id": invoice.InvoiceID, "amount": 300000, "method": "card"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view lifecycle.PaymentView
	decodeResponse(t, rec, &view)
	assert.Equal(t, models.TransactionPending, view.Status)

	body := []byte(`{"transaction_id":"` + view.TransactionID + `","status":"success","gateway_ref":"sbx_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set(payment.SignatureHeader, payment.Sign(testWebhookSecret, body))
	webhook := httptest.NewRecorder()
	f.routes.ServeHTTP(webhook, req)
	require.Equal(t, http.StatusOK, webhook.Code, webhook.Body.String())

	rec = f.do(t, http.MethodGet, "/api/invoices/"+invoice.InvoiceID, customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeResponse(t, rec, &invoice)
	assert.Equal(t, models.PaymentPaid, invoice.PaymentStatus)

	rec = f.do(t, http.MethodGet, "/api/events/"+orderID, staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail lifecycle.AuditTrail
	decodeResponse(t, rec, &trail)
	assert.True(t, trail.Verified)
	assert.NotEmpty(t, trail.Events)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := []byte(`{"transaction_id":"7b0b3a5e-6f59-4bb5-a6d1-1f0d3f3c1a11","status":"success"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set(payment.SignatureHeader, payment.Sign("wrong-secret", body))
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnknownTransaction(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := []byte(`{"transaction_id":"7b0b3a5e-6f59-4bb5-a6d1-1f0d3f3c1a11","status":"failed","reason":"declined"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set(payment.SignatureHeader, "sha256="+payment.Sign(testWebhookSecret, body))
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, token := f.customer(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDisabledAccountLosesAccess(t *testing.T) {
	f := newAPIFixture(t, nil)
	account, token := f.customer(t, "alice")

	rec := f.do(t, http.MethodPatch, "/api/accounts/"+account.AccountID+"/access", f.token(t, f.admin), map[string]string{"status": "banned"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimited(t *testing.T) {
	f := newAPIFixture(t, NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2, AccountPerMinute: 1, AccountBurst: 2}))
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeResponse(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "rate_limited", resp.Error.Code)
}

func TestMetricsExposeRoutePattern(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, token := f.customer(t, "alice")
	f.do(t, http.MethodGet, "/api/vehicles/"+f.admin.AccountID, token, nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "evm_http_requests_total")
	assert.True(t, strings.Contains(body, `route="/api/vehicles/{id}"`), body)
}

func preflight(f *apiFixture, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/me", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOriginWithoutCredentials(t *testing.T) {
	f := newAPIFixture(t, nil, func(o *Options) { o.CORSOrigins = []string{"https://app.example"} })

	rec := preflight(f, "https://app.example")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(f, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	get := httptest.NewRecorder()
	f.routes.ServeHTTP(get, req)
	assert.Equal(t, "https://app.example", get.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, get.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := preflight(f, "https://app.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
