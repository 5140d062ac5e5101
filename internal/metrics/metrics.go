package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pfmt/internal/events"
)

// Metrics holds the service's Prometheus collectors on a private registry.
//
// Metrics:
//   - pfmt_transitions_total{type} - committed state transitions
//   - pfmt_http_requests_total{method,route,status} - served requests
//   - pfmt_http_request_duration_seconds{method,route} - request latency
type Metrics struct {
	Registry *prometheus.Registry

	TransitionsTotal *prometheus.CounterVec
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfmt_transitions_total",
				Help: "Total number of committed state transitions",
			},
			[]string{"type"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfmt_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pfmt_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Subscriber counts transitions published on the event bus.
func (m *Metrics) Subscriber() events.Subscriber {
	return events.SubscriberFunc(func(_ context.Context, evt events.Event) {
		m.TransitionsTotal.WithLabelValues(evt.Type).Inc()
	})
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
