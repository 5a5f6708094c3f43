// Package metrics owns the Prometheus registry and the service's collectors.
// Every recording method is safe on a nil *Metrics so callers and tests can
// skip instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "careerlyst"

// Metrics wraps the registry and the pre-defined metric vectors.
type Metrics struct {
	registry *prometheus.Registry

	Reconciliations        *prometheus.CounterVec
	EntitlementRevocations *prometheus.CounterVec
	Reservations           *prometheus.CounterVec
	ReservationWait        prometheus.Histogram
	Jobs                   *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconciliations_total",
			Help:      "Subscription reconciliations by entry path and outcome",
		}, []string{"path", "outcome"}),
		EntitlementRevocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_revocations_total",
			Help:      "Entitlement rule evaluations that revoked (or failed to revoke) access",
		}, []string{"rule", "outcome"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prospect_reservations_total",
			Help:      "Prospect list reservation outcomes",
		}, []string{"outcome"}),
		ReservationWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prospect_reservation_wait_seconds",
			Help:      "Time a losing request spent waiting for the reservation winner",
			Buckets:   []float64{.05, .1, .2, .4, .8, 1.2, 1.6, 2, 3},
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job lifecycle events by job type",
		}, []string{"job_type", "event"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job handler executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Reconciliations,
		m.EntitlementRevocations,
		m.Reservations,
		m.ReservationWait,
		m.Jobs,
		m.JobDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveReconciliation(path, outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) ObserveRevocation(rule, outcome string) {
	if m == nil {
		return
	}
	m.EntitlementRevocations.WithLabelValues(rule, outcome).Inc()
}

func (m *Metrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReservationWait(d time.Duration) {
	if m == nil {
		return
	}
	m.ReservationWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveJob(jobType, event string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(jobType, event).Inc()
}

func (m *Metrics) ObserveJobDuration(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
