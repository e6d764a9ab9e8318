package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	BoardsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_boards_created_total",
			Help: "Total boards created through the API",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_active_sessions",
			Help: "Sessions with at least one participant",
		},
	)

	ConnectedParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_connected_participants",
			Help: "Participants joined to a session",
		},
	)

	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_ws_connections",
			Help: "Open WebSocket connections",
		},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_messages_received_total",
			Help: "Inbound realtime messages by type",
		},
		[]string{"type"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_messages_rejected_total",
			Help: "Inbound realtime messages rejected",
		},
		[]string{"reason"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_broadcasts_total",
			Help: "Outbound realtime messages fanned out, by type",
		},
		[]string{"type"},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_slow_consumers_dropped_total",
			Help: "Connections closed because their send buffer was full",
		},
	)

	// Persistence metrics
	SnapshotsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_snapshots_persisted_total",
			Help: "Snapshots written to the durable store",
		},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_persist_failures_total",
			Help: "Failed persistence operations",
		},
		[]string{"target"}, // "store", "cache" or "events"
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_persist_latency_seconds",
			Help:    "Latency of a snapshot flush to the durable store",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"limit"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_store_latency_seconds",
			Help:    "Durable store query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
