package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the per-session prometheus collectors. Each emulator
// session owns its own registry so concurrent sessions in tests never
// collide on collector registration.
type Metrics struct {
	registry *prometheus.Registry

	BusPublished      prometheus.Counter
	BusFramesReceived prometheus.Counter
	BusFramesDropped  prometheus.Counter
	BusClients        prometheus.Gauge

	SupervisorRestarts prometheus.Counter
	WorkerExits        prometheus.Counter

	RouterDispatched *prometheus.CounterVec
	RouterUnknown    prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		BusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_bus_published_total",
			Help: "Messages published to connected websocket clients.",
		}),
		BusFramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_bus_frames_received_total",
			Help: "Frames received from websocket clients.",
		}),
		BusFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_bus_frames_dropped_total",
			Help: "Inbound frames dropped as malformed.",
		}),
		BusClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskthing_bus_clients",
			Help: "Currently connected websocket clients.",
		}),
		SupervisorRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_supervisor_restarts_total",
			Help: "App server restarts triggered by file changes or requests.",
		}),
		WorkerExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_worker_exits_total",
			Help: "App server process exits, clean or not.",
		}),
		RouterDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskthing_router_dispatched_total",
			Help: "Messages dispatched to a handler, by type.",
		}, []string{"type"}),
		RouterUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskthing_router_unknown_total",
			Help: "Messages with an unrecognized type.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskthing_http_requests_total",
			Help: "Dev server HTTP requests, by route class.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.BusPublished, m.BusFramesReceived, m.BusFramesDropped, m.BusClients,
		m.SupervisorRestarts, m.WorkerExits,
		m.RouterDispatched, m.RouterUnknown,
		m.HTTPRequests,
	)
	return m
}

// Handler serves the session's registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
