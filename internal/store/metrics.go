package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Operation outcomes recorded by Metrics.
const (
	outcomeSuccess    = "success"
	outcomeRolledBack = "rolled_back"
	outcomeInvalid    = "invalid"
	outcomeBusy       = "busy"
)

// Metrics holds the cart operation collectors for one registry. A nil
// *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pending    prometheus.Gauge
	quickAdds  *prometheus.CounterVec
}

// NewMetrics registers the cart store collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_cart_operations_total",
				Help: "Total number of cart operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_cart_operation_duration_seconds",
				Help:    "Duration of cart operations including the upstream round trip",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_cart_pending_operations",
			Help: "Cart mutations currently awaiting the upstream API",
		}),
		quickAdds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_quick_add_total",
				Help: "Quick add button presses by final state",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcomeOf(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) refused(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcomeOf(err)).Inc()
}

func (m *Metrics) pendingDelta(d float64) {
	if m == nil {
		return
	}
	m.pending.Add(d)
}

func (m *Metrics) quickAdd(state ButtonState) {
	if m == nil {
		return
	}
	m.quickAdds.WithLabelValues(string(state)).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, apperrors.ErrBusy):
		return outcomeBusy
	case errors.Is(err, apperrors.ErrInvalidInput):
		return outcomeInvalid
	default:
		return outcomeRolledBack
	}
}
