// Package metrics exposes Prometheus collectors for the HTTP API and the
// job queue.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-reminders/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple processes never
// collide on the global one.
type Metrics struct {
	registry     *prometheus.Registry
	httpDuration *prometheus.HistogramVec
	jobEvents    *prometheus.CounterVec
}

// New registers the process collectors under namespace along with the
// request and job collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration (seconds)",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		jobEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_job_events_total",
			Help:      "Job outcomes reported by the queue workers.",
		}, []string{"topic", "event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		m.httpDuration,
		m.jobEvents,
	)
	return m
}

// ObserveHTTP records one finished request. An empty route means no
// pattern matched.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unknown"
	}
	m.httpDuration.WithLabelValues(strings.ToLower(method), route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveJob counts a worker event by topic and type.
func (m *Metrics) ObserveJob(ev queue.Event) {
	m.jobEvents.WithLabelValues(ev.Job.Topic, string(ev.Type)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
