// Package lifecycle owns every state transition of appointments, work
// orders, invoices and payments. Each operation checks input, then role
// policy, then hands one atomic conditional write to the store.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/payment"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/realtime"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type Publisher interface {
	Publish(msg realtime.Message)
}

type Options struct {
	Gateway        payment.Gateway
	Publisher      Publisher
	Logger         *zap.Logger
	Metrics        *Metrics
	Now            func() time.Time
	GatewayTimeout time.Duration
}

type Manager struct {
	store          store.Store
	gateway        payment.Gateway
	publisher      Publisher
	logger         *zap.Logger
	metrics        *Metrics
	now            func() time.Time
	gatewayTimeout time.Duration
}

func New(st store.Store, opts Options) *Manager {
	m := &Manager{
		store:          st,
		gateway:        opts.Gateway,
		publisher:      opts.Publisher,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
		gatewayTimeout: opts.GatewayTimeout,
	}
	if m.publisher == nil {
		m.publisher = nopPublisher{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.gatewayTimeout <= 0 {
		m.gatewayTimeout = 10 * time.Second
	}
	return m
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Message) {}

func (m *Manager) authorize(actor auth.Actor, subject policy.Subject, from, to string) error {
	if policy.CanTransition(actor.Role, actor.AccountID, subject, from, to) {
		return nil
	}
	return fmt.Errorf("%s may not move %s from %q to %q: %w", actor.Role, subject.Kind, from, to, store.ErrForbidden)
}

func (m *Manager) requireStaff(actor auth.Actor) error {
	if actor.AccountID != "" && actor.Role.IsStaff() {
		return nil
	}
	return fmt.Errorf("%s is not staff: %w", actor.Role, store.ErrForbidden)
}

func (m *Manager) publish(eventType, entityID, accountID, technicianID string, data any) {
	m.publisher.Publish(realtime.Message{
		Type:         eventType,
		EntityID:     entityID,
		AccountID:    accountID,
		TechnicianID: technicianID,
		Data:         data,
		CreatedAt:    m.now(),
	})
}

// observe records the outcome of one transition attempt.
func (m *Manager) observe(entity, action string, err error) {
	m.metrics.transitions.WithLabelValues(entity, action, outcomeOf(err)).Inc()
	if err != nil && !isExpected(err) {
		m.logger.Error("lifecycle transition failed", zap.String("entity", entity), zap.String("action", action), zap.Error(err))
	}
}

func requireID(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", store.Invalid(field, "required")
	}
	if _, err := uuid.Parse(value); err != nil {
		return "", store.Invalid(field, "must be a uuid")
	}
	return value, nil
}

func ptr[T any](value T) *T {
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// withTimeout bounds a gateway call.
func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.gatewayTimeout)
}
