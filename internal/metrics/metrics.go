// Package metrics exposes Prometheus instrumentation for the sync job, the
// rating API client, reminder delivery and the HTTP API.
//
// All recording methods are safe to call on a nil *Manager, so components can
// be constructed without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDropped = "dropped"
)

// Manager owns the registry and every collector of the service.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	syncRuns         prometheus.Counter
	syncStudents     *prometheus.CounterVec
	syncReminders    prometheus.Counter
	syncDuration     prometheus.Histogram
	syncLastRunUnix  prometheus.Gauge
	syncLastFailures prometheus.Gauge

	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec

	emailDeliveries *prometheus.CounterVec
	emailQueueDepth prometheus.Gauge

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Option configures a Manager
type Option func(*Manager)

// WithNamespace overrides the metric namespace (default "student_progress")
func WithNamespace(ns string) Option {
	return func(m *Manager) { m.namespace = ns }
}

// WithRegistry registers collectors on the given registry instead of a fresh one
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// New creates a Manager with its own registry and the Go/process collectors.
func New(opts ...Option) *Manager {
	m := &Manager{namespace: "student_progress"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.syncRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of batch sync runs started",
	})
	m.syncStudents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "students_total",
		Help:      "Students processed by the batch sync, by result",
	}, []string{"result"})
	m.syncReminders = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "reminders_total",
		Help:      "Inactivity reminders handed to the notification sender",
	})
	m.syncDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a batch sync run",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
	m.syncLastRunUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last batch sync run finished",
	})
	m.syncLastFailures = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "last_run_failures",
		Help:      "Failed students in the last batch sync run",
	})

	m.upstreamLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "codeforces",
		Name:      "request_duration_seconds",
		Help:      "Codeforces API request latency by method",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	m.upstreamErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "codeforces",
		Name:      "errors_total",
		Help:      "Failed Codeforces API requests by method",
	}, []string{"method"})

	m.emailDeliveries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "mail",
		Name:      "deliveries_total",
		Help:      "Reminder email deliveries by result",
	}, []string{"result"})
	m.emailQueueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "mail",
		Name:      "queue_depth",
		Help:      "Reminder emails waiting for a worker",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and method",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
}

// Registry returns the underlying registry
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) RecordSyncRunStarted() {
	if m == nil {
		return
	}
	m.syncRuns.Inc()
}

func (m *Manager) RecordSyncStudent(result string) {
	if m == nil {
		return
	}
	m.syncStudents.WithLabelValues(result).Inc()
}

func (m *Manager) RecordReminder() {
	if m == nil {
		return
	}
	m.syncReminders.Inc()
}

// RecordSyncRunFinished records the outcome of a whole run
func (m *Manager) RecordSyncRunFinished(finishedAt time.Time, duration time.Duration, failures int) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(duration.Seconds())
	m.syncLastRunUnix.Set(float64(finishedAt.Unix()))
	m.syncLastFailures.Set(float64(failures))
}

func (m *Manager) ObserveUpstream(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.upstreamErrors.WithLabelValues(method).Inc()
	}
}

func (m *Manager) RecordEmailDelivery(result string) {
	if m == nil {
		return
	}
	m.emailDeliveries.WithLabelValues(result).Inc()
}

func (m *Manager) SetEmailQueueDepth(n int) {
	if m == nil {
		return
	}
	m.emailQueueDepth.Set(float64(n))
}

func (m *Manager) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
