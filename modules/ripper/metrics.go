package ripper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "icystream"

var (
	metricBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "bytes_written_total",
		Help:      "Audio bytes written to track files.",
	})
	metricBytesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "bytes_discarded_total",
		Help:      "Audio bytes received before the first track title.",
	})
	metricTracks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "tracks_total",
		Help:      "Track changes seen in the stream metadata.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: module,
		Name:      "reconnects_total",
		Help:      "Reconnections to the stream after a disconnect.",
	})
)
