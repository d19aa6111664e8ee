package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsInFlight    prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
	promotedTotal   prometheus.Counter
	recoveredTotal  prometheus.Counter
	escalationTotal *prometheus.CounterVec
	storeAvailable  prometheus.Gauge
	breakerChanges  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idv",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total processed queue jobs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "idv",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Pipeline duration in seconds by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "idv",
			Subsystem:   "worker",
			Name:        "jobs_in_flight",
			Help:        "Number of jobs currently being processed.",
			ConstLabels: constLabels,
		},
	)
	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "idv",
			Subsystem:   "queue",
			Name:        "depth",
			Help:        "Queue sizes by set.",
			ConstLabels: constLabels,
		},
		[]string{"set"},
	)
	promotedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "idv",
			Subsystem:   "queue",
			Name:        "promoted_total",
			Help:        "Delayed entries promoted to the active queue.",
			ConstLabels: constLabels,
		},
	)
	recoveredTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "idv",
			Subsystem:   "queue",
			Name:        "recovered_total",
			Help:        "Stuck processing entries moved back to the queue.",
			ConstLabels: constLabels,
		},
	)
	escalationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idv",
			Subsystem: "escalation",
			Name:      "submissions_total",
			Help:      "Escalation submissions by reason and result.",
		},
		[]string{"service", "reason", "result"},
	)
	storeAvailable := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "idv",
			Subsystem:   "queue",
			Name:        "store_available",
			Help:        "1 when the queue store answered the last probe.",
			ConstLabels: constLabels,
		},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idv",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"service", "operation", "to"},
	)

	registry.MustRegister(
		jobsTotal,
		jobDuration,
		jobsInFlight,
		queueDepth,
		promotedTotal,
		recoveredTotal,
		escalationTotal,
		storeAvailable,
		breakerChanges,
	)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		jobsInFlight:    jobsInFlight,
		queueDepth:      queueDepth,
		promotedTotal:   promotedTotal,
		recoveredTotal:  recoveredTotal,
		escalationTotal: escalationTotal,
		storeAvailable:  storeAvailable,
		breakerChanges:  breakerChanges,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) JobStarted() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) JobFinished(outcome string, duration time.Duration) {
	m.jobsInFlight.Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.jobsTotal.WithLabelValues(m.service, outcome).Inc()
	m.jobDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) QueueDepth(queued, processing, delayed int64) {
	m.queueDepth.WithLabelValues("queued").Set(float64(queued))
	m.queueDepth.WithLabelValues("processing").Set(float64(processing))
	m.queueDepth.WithLabelValues("delayed").Set(float64(delayed))
}

func (m *WorkerMetrics) Promoted(n int) {
	if n > 0 {
		m.promotedTotal.Add(float64(n))
	}
}

func (m *WorkerMetrics) Recovered(n int) {
	if n > 0 {
		m.recoveredTotal.Add(float64(n))
	}
}

func (m *WorkerMetrics) Escalation(reason, result string) {
	m.escalationTotal.WithLabelValues(m.service, reason, result).Inc()
}

func (m *WorkerMetrics) StoreAvailable(available bool) {
	if available {
		m.storeAvailable.Set(1)
		return
	}
	m.storeAvailable.Set(0)
}

// BreakerTransition matches resilience.StateObserver.
func (m *WorkerMetrics) BreakerTransition(operation, _, to string) {
	m.breakerChanges.WithLabelValues(m.service, operation, to).Inc()
}
