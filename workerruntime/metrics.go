package workerruntime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series a syncworker process exports,
// grounded on tracing/metrics.go's promauto registration style. Labels are
// deliberately limited to worker_id and connector_type (spec.md §5.4:
// "never label metrics with sync_id or sync_job_id; aggregate by
// connector_type and worker_id") to keep cardinality bounded regardless of
// how many syncs or jobs a worker processes over its lifetime.
type Metrics struct {
	JobsStarted   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ActiveJobs    *prometheus.GaugeVec
}

// NewMetrics registers this worker's series under namespace (defaults to
// "syncengine").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "syncengine"
	}

	labels := []string{"worker_id", "connector_type"}

	return &Metrics{
		JobsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of sync jobs this worker has started.",
			},
			labels,
		),
		JobsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of sync jobs this worker has finished, by terminal status.",
			},
			append(append([]string{}, labels...), "status"),
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of a sync job run.",
				Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
			labels,
		),
		ActiveJobs: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Number of sync jobs currently running on this worker.",
			},
			labels,
		),
	}
}

func (m *Metrics) jobStarted(workerID, connectorType string) {
	m.JobsStarted.WithLabelValues(workerID, connectorType).Inc()
	m.ActiveJobs.WithLabelValues(workerID, connectorType).Inc()
}

func (m *Metrics) jobFinished(workerID, connectorType, status string, d time.Duration) {
	m.JobsCompleted.WithLabelValues(workerID, connectorType, status).Inc()
	m.JobDuration.WithLabelValues(workerID, connectorType).Observe(d.Seconds())
	m.ActiveJobs.WithLabelValues(workerID, connectorType).Dec()
}
