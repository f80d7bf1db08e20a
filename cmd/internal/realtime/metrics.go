package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuma_realtime_active_connections",
		Help: "Number of currently active websocket connections.",
	})

	metricEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuma_realtime_events_published_total",
		Help: "Events handed to the fanout engine, by event type.",
	}, []string{"type"})

	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuma_realtime_deliveries_total",
		Help: "Per-subscriber delivery attempts, by result (delivered|dropped).",
	}, []string{"result"})

	metricRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuma_realtime_redeliveries_total",
		Help: "Messages replayed to reconnecting users.",
	})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuma_realtime_commands_total",
		Help: "Inbound commands, by type and result (ok|error).",
	}, []string{"type", "result"})
)
