package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector using Prometheus metrics
type Prometheus struct {
	outcomes          *prometheus.CounterVec
	orchestrationTime *prometheus.HistogramVec
	phaseFailures     *prometheus.CounterVec
	installDuration   *prometheus.HistogramVec
	processStarts     prometheus.Counter
	terminationTime   prometheus.Histogram
	activeProcesses   prometheus.Gauge
	logEvictedBytes   prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheus creates a collector backed by its own registry.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "ivy"
	}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
	}

	p.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_orchestrations_total",
			Help:      "Total number of dev-server start attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ng serve cold starts routinely take minutes
	p.orchestrationTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "devserver_orchestration_duration_seconds",
			Help:      "Duration of dev-server start attempts",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300},
		},
		[]string{"outcome"},
	)

	p.phaseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_phase_failures_total",
			Help:      "Total number of fatal orchestration phase failures",
		},
		[]string{"phase"},
	)

	p.installDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dependency_install_duration_seconds",
			Help:      "Duration of dependency installs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"manager", "status"},
	)

	p.processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_process_starts_total",
			Help:      "Total number of dev-server processes spawned",
		},
	)

	p.terminationTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "devserver_process_termination_duration_seconds",
			Help:      "Duration of dev-server process tree teardown",
			Buckets:   prometheus.DefBuckets,
		},
	)

	p.activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devserver_active_processes",
			Help:      "Current number of managed dev-server processes",
		},
	)

	p.logEvictedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_log_evicted_bytes_total",
			Help:      "Total bytes evicted from dev-server log buffers",
		},
	)

	p.registry.MustRegister(
		p.outcomes,
		p.orchestrationTime,
		p.phaseFailures,
		p.installDuration,
		p.processStarts,
		p.terminationTime,
		p.activeProcesses,
		p.logEvictedBytes,
	)

	return p
}

// OrchestrationCompleted records the terminal outcome of a start attempt
func (p *Prometheus) OrchestrationCompleted(outcome string, duration time.Duration) {
	p.outcomes.WithLabelValues(outcome).Inc()
	p.orchestrationTime.WithLabelValues(outcome).Observe(duration.Seconds())
}

// PhaseFailed records a fatal error in an orchestration phase
func (p *Prometheus) PhaseFailed(phase string) {
	p.phaseFailures.WithLabelValues(phase).Inc()
}

// InstallCompleted records a dependency install run
func (p *Prometheus) InstallCompleted(manager string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.installDuration.WithLabelValues(manager, status).Observe(duration.Seconds())
}

// ProcessStarted records a dev-server process spawn
func (p *Prometheus) ProcessStarted() {
	p.processStarts.Inc()
}

// ProcessStopped records a dev-server process teardown
func (p *Prometheus) ProcessStopped(duration time.Duration) {
	p.terminationTime.Observe(duration.Seconds())
}

// ActiveProcesses records the number of registered processes
func (p *Prometheus) ActiveProcesses(n int) {
	p.activeProcesses.Set(float64(n))
}

// LogEvicted records bytes dropped from a log buffer
func (p *Prometheus) LogEvicted(bytes int) {
	p.logEvictedBytes.Add(float64(bytes))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Compile-time interface compliance check
var _ Collector = (*Prometheus)(nil)
