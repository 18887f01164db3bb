package lifecycle

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type Metrics struct {
	transitions *prometheus.CounterVec
	payments    *prometheus.CounterVec
	gatewayTime prometheus.Histogram
}

// NewMetrics registers lifecycle collectors on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evm_lifecycle_transitions_total",
			Help: "Lifecycle transition attempts by entity, action and outcome",
		}, []string{"entity", "action", "outcome"}),
		payments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evm_payment_settlements_total",
			Help: "Invoice settlement attempts by path and outcome",
		}, []string{"via", "outcome"}),
		gatewayTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evm_payment_gateway_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, store.ErrGateway):
		return "gateway"
	default:
		return "error"
	}
}

// isExpected reports whether err is a domain outcome rather than a fault.
func isExpected(err error) bool {
	return outcomeOf(err) != "error"
}
