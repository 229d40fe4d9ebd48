// Package metrics exports Prometheus collectors for the execution worker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds the worker's Prometheus collectors.
type Metrics struct {
	// Jobs
	JobsTotal        *prometheus.CounterVec
	JobFailuresTotal prometheus.Counter

	// Queue polling
	PollsTotal *prometheus.CounterVec

	// Executions
	ExecutionDuration  prometheus.Histogram
	ExecutionsInFlight prometheus.Gauge

	// Sandbox lifecycle
	OrphansReapedTotal prometheus.Counter
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Jobs processed, by final verdict",
		}, []string{"verdict"}),
		JobFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_job_failures_total",
			Help: "Jobs that failed outside adjudication",
		}),
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_queue_polls_total",
			Help: "Queue poll attempts, by result",
		}, []string{"result"}),
		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_execution_duration_seconds",
			Help:    "End-to-end adjudication duration per submission",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ExecutionsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_executions_in_flight",
			Help: "Adjudications currently running",
		}),
		OrphansReapedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_orphans_reaped_total",
			Help: "Orphaned sandbox containers removed",
		}),
	}
}
