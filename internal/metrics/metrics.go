// Package metrics exposes detection job counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Queue tracking
	QueueDepth atomic.Int64
	ActiveJobs atomic.Int64

	// Detections counted across all finished jobs
	DetectionsCounted atomic.Uint64

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosquito_jobs_submitted_total",
			Help: "Detection jobs accepted into the queue",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosquito_jobs_finished_total",
			Help: "Detection jobs finished, by outcome",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mosquito_job_duration_seconds",
			Help:    "Wall time of detection jobs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.jobsSubmitted, m.jobsFinished, m.jobDuration)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mosquito_queue_depth",
			Help: "Jobs waiting for a worker",
		},
		func() float64 { return float64(m.QueueDepth.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mosquito_active_jobs",
			Help: "Jobs currently running on a worker",
		},
		func() float64 { return float64(m.ActiveJobs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mosquito_detections_counted_total",
			Help: "Detections counted by finished jobs",
		},
		func() float64 { return float64(m.DetectionsCounted.Load()) },
	))
}

// WatchViewers exposes the number of connected progress viewers as reported
// by count. Call it once.
func (m *Metrics) WatchViewers(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mosquito_progress_viewers",
			Help: "Connected progress websocket clients",
		},
		func() float64 { return float64(count()) },
	))
}

// JobSubmitted records a job entering the queue.
func (m *Metrics) JobSubmitted(kind string) {
	m.jobsSubmitted.WithLabelValues(kind).Inc()
	m.QueueDepth.Add(1)
}

// JobStarted moves a job from the queue to a worker.
func (m *Metrics) JobStarted() {
	m.QueueDepth.Add(-1)
	m.ActiveJobs.Add(1)
}

// JobFinished records the outcome of a job that ran on a worker.
func (m *Metrics) JobFinished(kind string, took time.Duration, count int, err error) {
	m.ActiveJobs.Add(-1)
	status := "ok"
	if err != nil {
		status = "error"
	} else if count > 0 {
		m.DetectionsCounted.Add(uint64(count))
	}
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// JobRejected undoes JobSubmitted for a job the full queue turned away.
func (m *Metrics) JobRejected(kind string) {
	m.QueueDepth.Add(-1)
	m.jobsFinished.WithLabelValues(kind, "rejected").Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
