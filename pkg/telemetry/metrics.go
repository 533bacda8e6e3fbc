package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploysStarted   *prometheus.CounterVec
	deploysCompleted *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec

	// Teardown metrics
	destroysStarted   *prometheus.CounterVec
	destroysCompleted *prometheus.CounterVec
	destroyDuration   *prometheus.HistogramVec

	// Provisioner metrics
	provisionerCalls    *prometheus.CounterVec
	provisionerDuration *prometheus.HistogramVec
	provisionerErrors   *prometheus.CounterVec

	// Reconciliation metrics
	sweepRuns     *prometheus.CounterVec
	sweepTouched  *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec

	// Notification metrics
	notificationsSent *prometheus.CounterVec

	// System metrics
	activeDeployments prometheus.Gauge
	queuedJobs        prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploysStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_started_total",
				Help:      "Total number of attendee deployments started",
			},
			[]string{"workshop_id"},
		),
		deploysCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_completed_total",
				Help:      "Total number of attendee deployments completed",
			},
			[]string{"status"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of attendee deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		destroysStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "destroys_started_total",
				Help:      "Total number of attendee teardowns started",
			},
			[]string{"workshop_id"},
		),
		destroysCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "destroys_completed_total",
				Help:      "Total number of attendee teardowns completed",
			},
			[]string{"status"},
		),
		destroyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "destroy_duration_seconds",
				Help:      "Duration of attendee teardowns in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		provisionerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioner_calls_total",
				Help:      "Total number of provisioner subprocess invocations",
			},
			[]string{"operation"},
		),
		provisionerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provisioner_call_duration_seconds",
				Help:      "Duration of provisioner subprocess invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		provisionerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioner_errors_total",
				Help:      "Total number of failed provisioner invocations",
			},
			[]string{"operation"},
		),

		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of reconciliation sweep runs",
			},
			[]string{"sweep", "status"},
		),
		sweepTouched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_entities_touched_total",
				Help:      "Total number of entities modified by reconciliation sweeps",
			},
			[]string{"sweep"},
		),
		sweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of reconciliation sweeps in seconds",
				Buckets:   buckets,
			},
			[]string{"sweep"},
		),

		notificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of email notifications attempted",
			},
			[]string{"kind", "status"},
		),

		activeDeployments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deployments",
				Help:      "Current number of in-flight attendee deployments",
			},
		),
		queuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_jobs",
				Help:      "Current number of queued background jobs",
			},
		),
	}

	registry.MustRegister(
		m.deploysStarted,
		m.deploysCompleted,
		m.deployDuration,
		m.destroysStarted,
		m.destroysCompleted,
		m.destroyDuration,
		m.provisionerCalls,
		m.provisionerDuration,
		m.provisionerErrors,
		m.sweepRuns,
		m.sweepTouched,
		m.sweepDuration,
		m.notificationsSent,
		m.activeDeployments,
		m.queuedJobs,
	)

	return m, nil
}

// Deployment Metrics

// RecordDeployStarted increments the counter for started deployments.
func (m *Metrics) RecordDeployStarted(workshopID string) {
	if m == nil || m.deploysStarted == nil {
		return
	}
	m.deploysStarted.WithLabelValues(workshopID).Inc()
	m.activeDeployments.Inc()
}

// RecordDeployCompleted records a finished deployment with its status and duration.
func (m *Metrics) RecordDeployCompleted(status string, duration time.Duration) {
	if m == nil || m.deploysCompleted == nil {
		return
	}
	m.deploysCompleted.WithLabelValues(status).Inc()
	m.deployDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// Teardown Metrics

// RecordDestroyStarted increments the counter for started teardowns.
func (m *Metrics) RecordDestroyStarted(workshopID string) {
	if m == nil || m.destroysStarted == nil {
		return
	}
	m.destroysStarted.WithLabelValues(workshopID).Inc()
}

// RecordDestroyCompleted records a finished teardown with its status and duration.
func (m *Metrics) RecordDestroyCompleted(status string, duration time.Duration) {
	if m == nil || m.destroysCompleted == nil {
		return
	}
	m.destroysCompleted.WithLabelValues(status).Inc()
	m.destroyDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Provisioner Metrics

// RecordProvisionerCall records a provisioner invocation with its duration.
func (m *Metrics) RecordProvisionerCall(operation string, duration time.Duration) {
	if m == nil || m.provisionerCalls == nil {
		return
	}
	m.provisionerCalls.WithLabelValues(operation).Inc()
	m.provisionerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProvisionerError records a failed provisioner invocation.
func (m *Metrics) RecordProvisionerError(operation string) {
	if m == nil || m.provisionerErrors == nil {
		return
	}
	m.provisionerErrors.WithLabelValues(operation).Inc()
}

// Reconciliation Metrics

// RecordSweepRun records one reconciliation sweep run.
func (m *Metrics) RecordSweepRun(sweep, status string, touched int, duration time.Duration) {
	if m == nil || m.sweepRuns == nil {
		return
	}
	m.sweepRuns.WithLabelValues(sweep, status).Inc()
	m.sweepTouched.WithLabelValues(sweep).Add(float64(touched))
	m.sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

// Notification Metrics

// RecordNotification records an attempted email notification.
func (m *Metrics) RecordNotification(kind, status string) {
	if m == nil || m.notificationsSent == nil {
		return
	}
	m.notificationsSent.WithLabelValues(kind, status).Inc()
}

// System Metrics

// SetQueuedJobs sets the current number of queued background jobs.
func (m *Metrics) SetQueuedJobs(count float64) {
	if m == nil || m.queuedJobs == nil {
		return
	}
	m.queuedJobs.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
