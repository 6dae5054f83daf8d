package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_sessions_loaded",
			Help: "Number of whiteboard sessions held in memory",
		},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_connections_active",
			Help: "Number of open websocket connections",
		},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_messages_total",
			Help: "Inbound client messages by type and result",
		},
		[]string{"type", "result"},
	)

	DiffsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_diffs_flushed_total",
			Help: "Diffs written to the store by kind and result",
		},
		[]string{"kind", "result"},
	)

	DiffOutbox = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_diff_outbox_total",
			Help: "Diffs handed to the outbox queue after exhausting store retries",
		},
		[]string{"result"},
	)

	BroadcastLagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_broadcast_lagged_total",
			Help: "Subscribers dropped for falling behind the broadcast backlog",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_store_breaker_state",
			Help: "Diff store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
)
