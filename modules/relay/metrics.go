package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "icystream"

var (
	metricListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "listeners",
		Help:      "Connected listeners.",
	})
	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "bytes_sent_total",
		Help:      "Bytes sent to listeners, metadata included.",
	})
	metricBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "bytes_received_total",
		Help:      "Audio bytes read from the upstream.",
	})
	metricMetadataUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "metadata_updates_total",
		Help:      "Now playing changes by source.",
	}, []string{"source"})
	metricEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "evictions_total",
		Help:      "Listeners disconnected for falling behind.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "reconnects_total",
		Help:      "Reconnections to the upstream after a disconnect.",
	})
)
