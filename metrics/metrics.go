package metrics

import (
	"context"
	"strings"
	"time"

	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the portal
type Metrics struct {
	ActivityEvents  *prometheus.CounterVec
	ActiveProviders prometheus.Gauge
	AuthFailures    *prometheus.CounterVec
	EndpointLatency *prometheus.HistogramVec
}

var (
	_ portal.ActivitySink = (*Metrics)(nil)
	_ portal.HubObserver  = (*Metrics)(nil)
)

// New registers the collectors with reg. A nil registerer creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActivityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_activity_events_total",
			Help: "Total number of session and account activity events",
		}, []string{"event"}),
		ActiveProviders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portal_active_session_providers",
			Help: "Current number of live per device session providers",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_failures_total",
			Help: "Total number of failed account operations by error kind",
		}, []string{"event", "kind"}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Record counts the activity event
func (m *Metrics) Record(_ context.Context, event portal.ActivityEvent) error {
	m.ActivityEvents.WithLabelValues(string(event.EventType)).Inc()

	if kind, ok := event.Metadata["kind"].(string); ok && kind != "" {
		m.AuthFailures.WithLabelValues(string(event.EventType), kind).Inc()
	}
	return nil
}

// ProvidersActive tracks the hub size
func (m *Metrics) ProvidersActive(n int) {
	m.ActiveProviders.Set(float64(n))
}

func (m *Metrics) ObserveEndpointLatency(method, endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// Middleware observes the latency of every request
func (m *Metrics) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			start := time.Now()
			err := next(ctx)
			m.ObserveEndpointLatency(ctx.Method(), NormalizePath(ctx.Path()), time.Since(start).Seconds())
			return err
		}
	}
}

// NormalizePath replaces identifier segments with ":id" to keep label
// cardinality bounded.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := uuid.Parse(seg); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
