// Package httpapi exposes the lifecycle managers over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/realtime"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type Options struct {
	Manager       *lifecycle.Manager
	Accounts      store.AccountStore
	Tokens        *auth.TokenIssuer
	Revoker       auth.Revoker
	Hub           *realtime.Hub
	Limiter       *RateLimiter
	Metrics       *HTTPMetrics
	Gatherer      prometheus.Gatherer
	Logger        *zap.Logger
	WebhookSecret string
	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// means same-origin only.
	CORSOrigins []string
	// Sandbox mounts the development checkout pages when set.
	Sandbox *payment.Sandbox
	// Ready reports whether backing services answer; nil means always ready.
	Ready func(ctx context.Context) error
}

type Handler struct {
	manager       *lifecycle.Manager
	accounts      store.AccountStore
	tokens        *auth.TokenIssuer
	revoker       auth.Revoker
	hub           *realtime.Hub
	limiter       *RateLimiter
	metrics       *HTTPMetrics
	gatherer      prometheus.Gatherer
	logger        *zap.Logger
	webhookSecret string
	corsOrigins   []string
	sandbox       *payment.Sandbox
	ready         func(ctx context.Context) error
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		manager:       opts.Manager,
		accounts:      opts.Accounts,
		tokens:        opts.Tokens,
		revoker:       opts.Revoker,
		hub:           opts.Hub,
		limiter:       opts.Limiter,
		metrics:       opts.Metrics,
		gatherer:      opts.Gatherer,
		logger:        opts.Logger,
		webhookSecret: opts.WebhookSecret,
		corsOrigins:   opts.CORSOrigins,
		sandbox:       opts.Sandbox,
		ready:         opts.Ready,
	}
	if h.revoker == nil {
		h.revoker = auth.NewMemoryRevoker()
	}
	if h.limiter == nil {
		h.limiter = NewRateLimiter(RateLimitConfig{})
	}
	if h.metrics == nil {
		h.metrics = NewHTTPMetrics(nil)
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Instrument(h.logger, h.metrics, h.limiter.trusted))
	r.Use(Recovery(h.logger))
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
			MaxAge:         300,
		}))
	}
	r.Use(h.limiter.Middleware)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	if h.hub != nil {
		r.Handle("/realtime/*", h.realtimeHandler())
	}
	if h.sandbox != nil {
		r.Get("/sandbox/checkout/{ref}", h.handleSandboxCheckout)
		r.Post("/sandbox/checkout/{ref}", h.handleSandboxPay)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/payments/webhook", h.handlePaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Use(h.limiter.AccountMiddleware)

			r.Get("/auth/me", h.handleMe)
			r.Patch("/auth/me", h.handleUpdateMe)
			r.Post("/auth/logout", h.handleLogout)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.handleListAccounts)
				r.Post("/", h.handleCreateAccount)
				r.Get("/{id}", h.handleGetAccount)
				r.Patch("/{id}", h.handleUpdateProfile)
				r.Patch("/{id}/access", h.handleUpdateAccess)
			})

			r.Route("/vehicles", func(r chi.Router) {
				r.Get("/", h.handleListVehicles)
				r.Post("/", h.handleRegisterVehicle)
				r.Get("/{id}", h.handleGetVehicle)
				r.Patch("/{id}", h.handleUpdateVehicle)
				r.Delete("/{id}", h.handleDeleteVehicle)
			})

			r.Route("/services", func(r chi.Router) {
				r.Get("/", h.handleListServices)
				r.Post("/", h.handleCreateService)
				r.Patch("/{id}", h.handleSetServiceActive)
			})

			r.Route("/slots", func(r chi.Router) {
				r.Get("/", h.handleListSlots)
				r.Post("/", h.handleCreateSlot)
			})

			r.Route("/appointments", func(r chi.Router) {
				r.Get("/", h.handleListAppointments)
				r.Post("/", h.handleCreateAppointment)
				r.Get("/{id}", h.handleGetAppointment)
				r.Post("/{id}/confirm", h.handleConfirmAppointment)
				r.Delete("/{id}", h.handleCancelAppointment)
			})

			r.Route("/workorders", func(r chi.Router) {
				r.Get("/my/active", h.handleMyWorkOrders(false))
				r.Get("/my/completed", h.handleMyWorkOrders(true))
				r.Get("/{id}", h.handleGetWorkOrder)
				r.Patch("/{id}/status", h.handleWorkOrderStatus)
				r.Put("/{id}/diagnosis", h.handleUpdateDiagnosis)
				r.Post("/{id}/services", h.handleAddServiceLine)
				r.Post("/{id}/parts", h.handleAddPartUsage)
				r.Post("/{id}/parts/{lineId}/approve", h.handleApprovePart)
			})

			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.handleListInvoices)
				r.Post("/", h.handleIssueInvoice)
				r.Get("/{id}", h.handleGetInvoice)
				r.Post("/{id}/send", h.handleSendInvoice)
				r.Post("/{id}/mark-paid", h.handleMarkPaid)
				r.Post("/{id}/customer-paid", h.handleCustomerPaid)
			})

			r.Post("/payments/checkout", h.handleCheckout)
			r.Get("/payments/{id}/status", h.handlePaymentStatus)

			r.Get("/notifications", h.handleNotifications)
			r.Post("/notifications/seen", h.handleMarkSeen)

			r.Get("/events/{entityId}", h.handleEntityEvents)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

func queryBool(r *http.Request, name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && value
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, store.Invalid(name, "must be an RFC3339 timestamp")
	}
	return value, nil
}
