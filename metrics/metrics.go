// Package metrics exposes Prometheus metrics for requests, status updates,
// snapshot writes and websocket clients.
package metrics

import (
	"github.com/lefinal/event-status-server/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"time"
)

const namespace = "event_status"

// Update outcomes used as label for the status update counter.
const (
	OutcomeUpdated      = "updated"
	OutcomeUnknownEvent = "unknown-event"
	OutcomeInvalid      = "invalid-status"
	OutcomeDenied       = "denied"
	OutcomeFailed       = "failed"
)

// Metrics holds all collectors. Create it with New.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	statusUpdates   *prometheus.CounterVec
	snapshotWrites  *prometheus.CounterVec
	wsClients       prometheus.Gauge
	revision        prometheus.Gauge
}

// New registers all collectors in the given registry. If it is nil, a new one
// is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"route", "method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		statusUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Total status update requests by outcome",
		}, []string{"outcome"}),
		snapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Total snapshot writes by result",
		}, []string{"result"}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Currently connected websocket clients",
		}),
		revision: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_revision",
			Help:      "Current revision of the event store",
		}),
	}
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest tracks a finished HTTP request.
func (m *Metrics) ObserveRequest(route string, method string, code int, duration time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// TrackStatusUpdate counts a status update request with the given outcome.
func (m *Metrics) TrackStatusUpdate(outcome string) {
	m.statusUpdates.WithLabelValues(outcome).Inc()
}

// TrackSnapshotWrite counts a snapshot write.
func (m *Metrics) TrackSnapshotWrite(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.snapshotWrites.WithLabelValues(result).Inc()
}

// SetWSClients sets the number of connected websocket clients.
func (m *Metrics) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

// StatusChanged updates the revision gauge.
func (m *Metrics) StatusChanged(change event.StatusChange) {
	m.revision.Set(float64(change.Revision))
}
