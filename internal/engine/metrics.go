package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Scheduler
// =============================================================================

// Metrics holds the scheduler's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// bucketSize tracks how many instances sit in each bucket.
	// Labels: bucket
	bucketSize *prometheus.GaugeVec

	// transitions counts accepted lifecycle events.
	// Labels: event
	transitions *prometheus.CounterVec

	// executions counts settled invocations.
	// Labels: outcome (ok, error)
	executions *prometheus.CounterVec

	// drops counts instances removed without completing.
	// Labels: reason
	drops *prometheus.CounterVec

	// staleResults counts probes and results that arrived too late.
	// Labels: stage (probe, result)
	staleResults *prometheus.CounterVec

	// budgetAvailable tracks free admission slots.
	budgetAvailable prometheus.Gauge
}

// NewMetrics creates and registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bucketSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "bucket_size",
			Help:      "Callback instances currently in each lifecycle bucket",
		}, []string{"bucket"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by event",
		}, []string{"event"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "executions_total",
			Help:      "Settled callback invocations by outcome",
		}, []string{"outcome"}),
		drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "drops_total",
			Help:      "Callback instances dropped before completing, by reason",
		}, []string{"reason"}),
		staleResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "stale_results_total",
			Help:      "Deferred probes and results discarded because the instance moved on",
		}, []string{"stage"}),
		budgetAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cascade",
			Subsystem: "scheduler",
			Name:      "budget_available",
			Help:      "Free admission slots",
		}),
	}
}

func (m *Metrics) observeMove(event string, from, to Bucket) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
	if from != "" {
		m.bucketSize.WithLabelValues(string(from)).Dec()
	}
	if to != BucketDone && to != BucketDropped {
		m.bucketSize.WithLabelValues(string(to)).Inc()
	}
}

func (m *Metrics) observeRequest() {
	if m == nil {
		return
	}
	m.bucketSize.WithLabelValues(string(BucketRequested)).Inc()
}

func (m *Metrics) observeExecution(failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.executions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDrop(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeStale(stage string) {
	if m == nil {
		return
	}
	m.staleResults.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeBudget(available int) {
	if m == nil {
		return
	}
	m.budgetAvailable.Set(float64(available))
}
