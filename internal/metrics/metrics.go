package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pawsos/backend/internal/service"
)

// Metrics records case transitions, push dispatches and HTTP traffic.
type Metrics struct {
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	pushRecipients     prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ service.Recorder = (*Metrics)(nil)

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in main
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pawsos",
				Name:      "case_transitions_total",
				Help:      "Case operations by event and outcome",
			},
			[]string{"event", "outcome"},
		),

		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pawsos",
				Name:      "push_dispatch_total",
				Help:      "Push dispatches by event and result",
			},
			[]string{"event", "result"},
		),

		pushRecipients: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pawsos",
				Name:      "push_recipients_total",
				Help:      "Device tokens addressed by successful push dispatches",
			},
		),

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pawsos",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pawsos",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) Transition(event service.Event, kind service.Kind) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	m.transitionsTotal.WithLabelValues(string(event), outcome).Inc()
}

func (m *Metrics) Notification(event service.Event, recipients int, err error) {
	if err != nil {
		m.notificationsTotal.WithLabelValues(string(event), "failed").Inc()
		return
	}
	m.notificationsTotal.WithLabelValues(string(event), "sent").Inc()
	m.pushRecipients.Add(float64(recipients))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
