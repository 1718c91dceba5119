package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DestinationUpdatesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_destination_updates_total",
		Help: "The number of committed destination set changes",
	},
	[]string{"type"},
)

var SealedDestinationSetsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_destination_sets_sealed_total",
		Help: "The number of destination sets which have been sealed",
	},
	[]string{"type"},
)

// SinkLabels are vector definitions for sink-level metrics.
var SinkLabels = []string{"layout"}

var SinkBytesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_sink_bytes_total",
		Help: "Payload bytes accepted by exchange sinks, before compression",
	},
	SinkLabels,
)

var SinkFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_sink_failures_total",
		Help: "The number of failed writes or closes on exchange sinks",
	},
	SinkLabels,
)

var OpenSinksGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "exchange_open_sinks",
	Help: "The current number of open exchange sinks",
})
