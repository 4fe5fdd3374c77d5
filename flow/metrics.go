package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// All metrics are namespaced "caseflow". Labels are bounded vocabularies
// (node IDs, statuses, specialist IDs), never run IDs, which would explode
// cardinality on a busy service.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// guard their instrumentation.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewMetrics(registry)
//	engine := New(reducer, st, emitter, Options{Metrics: metrics})
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runsStarted        prometheus.Counter
	runsFinished       *prometheus.CounterVec
	nodeLatency        *prometheus.HistogramVec
	checkpointWrites   *prometheus.CounterVec
	specialistTimeouts *prometheus.CounterVec
	reviews            *prometheus.CounterVec
	revisions          prometheus.Counter
}

// NewMetrics creates and registers all workflow metrics with the provided
// registry. A nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "runs_started_total",
			Help:      "Workflow runs accepted for processing",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "runs_finished_total",
			Help:      "Workflow runs that reached a terminal or suspended state",
		}, []string{"outcome"}), // completed, failed, suspended
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caseflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node", "status"}), // status: success, error, timeout
		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint store writes by result",
		}, []string{"status"}), // ok, error
		specialistTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "specialist_timeouts_total",
			Help:      "Specialist tasks that exceeded their timeout",
		}, []string{"specialist"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "human_reviews_total",
			Help:      "Human review requests by lifecycle event",
		}, []string{"event"}), // opened, approved, modified, timed_out
		revisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "revisions_total",
			Help:      "Revision cycles executed across all runs",
		}),
	}
}

// RunStarted counts a newly accepted run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunFinished counts a run reaching a terminal or suspended state.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(outcome).Inc()
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(node string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(node, status).Observe(float64(latency.Milliseconds()))
}

// CheckpointWrite counts a checkpoint store write.
func (m *Metrics) CheckpointWrite(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.checkpointWrites.WithLabelValues(status).Inc()
}

// SpecialistTimeout counts a specialist task exceeding its deadline.
func (m *Metrics) SpecialistTimeout(specialist string) {
	if m == nil {
		return
	}
	m.specialistTimeouts.WithLabelValues(specialist).Inc()
}

// Review counts a human review lifecycle event.
func (m *Metrics) Review(event string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(event).Inc()
}

// Revision counts one revision cycle.
func (m *Metrics) Revision() {
	if m == nil {
		return
	}
	m.revisions.Inc()
}
