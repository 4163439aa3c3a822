// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaychat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_messages_persisted_total",
			Help: "Messages durably stored",
		},
		[]string{"source"}, // "http" or "realtime"
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_persist_failures_total",
			Help: "Message writes that failed",
		},
		[]string{"source"},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_push_deliveries_total",
			Help: "Push delivery attempts by outcome",
		},
		[]string{"result"}, // "delivered", "gone" or "failed"
	)

	PushSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaychat_push_skipped_total",
			Help: "Messages that skipped push because a user was active",
		},
	)

	// Realtime metrics
	ConnectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaychat_connected_peers",
			Help: "Live WebSocket connections",
		},
	)

	RelayedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaychat_relayed_messages_total",
			Help: "Messages relayed between WebSocket peers",
		},
	)
)
