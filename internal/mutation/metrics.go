package mutation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maruel/gridb/internal/invalidation"
	"github.com/maruel/gridb/internal/pending"
)

// Metrics are the Prometheus collectors of the coordinator. A nil *Metrics
// records nothing.
type Metrics struct {
	mutations       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	inconsistencies prometheus.Counter
	dispatch        *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. When registry is not nil, the
// number of pending placeholders is exported as a gauge.
func NewMetrics(reg prometheus.Registerer, registry *pending.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridb",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridb",
			Name:      "mutation_retries_total",
			Help:      "Dispatch attempts beyond the first one.",
		}, []string{"kind"}),
		inconsistencies: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gridb",
			Name:      "rollback_inconsistencies_total",
			Help:      "Rollbacks skipped because their target no longer exists.",
		}),
		dispatch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridb",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from dispatch to the store answer, retries included.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"kind"}),
	}
	if registry != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gridb",
			Name:      "pending_identities",
			Help:      "Placeholder identifiers awaiting their permanent identifier.",
		}, func() float64 { return float64(registry.Len()) })
	}
	return m
}

func (m *Metrics) outcome(k invalidation.Kind, outcome string) {
	if m != nil {
		m.mutations.WithLabelValues(string(k), outcome).Inc()
	}
}

func (m *Metrics) dispatched(k invalidation.Kind, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(string(k)).Observe(d.Seconds())
	if attempts > 1 {
		m.retries.WithLabelValues(string(k)).Add(float64(attempts - 1))
	}
}

func (m *Metrics) inconsistent() {
	if m != nil {
		m.inconsistencies.Inc()
	}
}
