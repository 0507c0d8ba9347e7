package livetracker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the live tracker metrics on its own registry
type Collector struct {
	reg *prometheus.Registry

	Connections              prometheus.Gauge
	AuthenticatedConnections prometheus.Gauge
	Subscriptions            prometheus.Gauge

	EventsReceived *prometheus.CounterVec // event label
	ErrorAcks      *prometheus.CounterVec // code label
	Deliveries     *prometheus.CounterVec // event label
	DroppedSends   prometheus.Counter
	Evictions      prometheus.Counter

	IngestDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_connections",
			Help: "Number of open real-time connections.",
		}),
		AuthenticatedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_authenticated_connections",
			Help: "Number of open connections bound to an identity.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_route_subscriptions",
			Help: "Number of connection to route group memberships.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrack_events_received_total",
			Help: "Inbound real-time events by event name.",
		}, []string{"event"}),
		ErrorAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrack_error_acks_total",
			Help: "Error acknowledgements sent by error code.",
		}, []string{"code"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrack_broadcast_deliveries_total",
			Help: "Frames handed to connections by broadcasts, by event name.",
		}, []string{"event"}),
		DroppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrack_dropped_sends_total",
			Help: "Frames dropped because a connection was closed or its buffer was full.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrack_evictions_total",
			Help: "Connections closed by the liveness monitor.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livetrack_ingest_duration_seconds",
			Help:    "Duration to validate, ingest and persist a location sample.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Connections, c.AuthenticatedConnections, c.Subscriptions,
		c.EventsReceived, c.ErrorAcks, c.Deliveries, c.DroppedSends, c.Evictions,
		c.IngestDuration,
	)

	return c
}

// Registry is exposed so other packages can add their collectors to /metrics
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }
