package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's instruments.
type Metrics struct {
	TradesIngested  prometheus.Counter
	TradesDropped   prometheus.Counter
	FramesForwarded prometheus.Counter
	WSReconnects    prometheus.Counter
	Subscribers     prometheus.Gauge
	SlowConsumers   prometheus.Counter
	ShmWouldBlock   prometheus.Counter

	registry *prometheus.Registry
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TradesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_trades_ingested_total",
			Help: "Trades decoded from the exchange websocket.",
		}),
		TradesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_trades_dropped_total",
			Help: "Trades dropped because the pipeline channel was full.",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_frames_forwarded_total",
			Help: "Encoded trade frames handed to the transport sink.",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_ws_reconnects_total",
			Help: "Websocket reconnection attempts.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forwarder_tcp_subscribers",
			Help: "Currently connected TCP subscribers.",
		}),
		SlowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_slow_consumer_disconnects_total",
			Help: "Subscribers disconnected for lagging behind the broadcast buffer.",
		}),
		ShmWouldBlock: factory.NewCounter(prometheus.CounterOpts{
			Name: "forwarder_shm_would_block_total",
			Help: "Frames dropped because the shared-memory ring was full.",
		}),
		registry: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
