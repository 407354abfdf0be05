package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	deliveryQueued  = "queued"
	deliveryDropped = "dropped"
)

// Metrics owns a private prometheus registry so several servers (tests) can
// coexist in one process.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	events      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	relayed     prometheus.Counter
	rateLimited prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_connections",
			Help: "Live websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_rooms",
			Help: "Rooms with at least one member.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_events_total",
			Help: "Inbound events handled, by event name.",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_deliveries_total",
			Help: "Outbound frame deliveries, by result.",
		}, []string{"result"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_messages_relayed_total",
			Help: "Chat messages fanned out to a room.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_rate_limited_total",
			Help: "Chat messages dropped by the per-connection rate limit.",
		}),
	}
	m.registry.MustRegister(m.connections, m.rooms, m.events, m.deliveries, m.relayed, m.rateLimited)
	return m
}

func (m *Metrics) IncConn() {
	m.connections.Inc()
}

func (m *Metrics) DecConn() {
	m.connections.Dec()
}

func (m *Metrics) SetRooms(count int) {
	m.rooms.Set(float64(count))
}

func (m *Metrics) IncEvent(event string) {
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) IncDelivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRelayed() {
	m.relayed.Inc()
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
