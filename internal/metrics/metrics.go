// Package metrics declares the engine's Prometheus collectors.
//
// Naming convention: namespace_subsystem_name
//   - namespace: watchsync (application-level grouping)
//   - subsystem: gateway, room, presence, directmsg, rate_limit
//   - name: specific metric (connections_active, commands_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the current number of live gateway sessions,
	// across both the watch-party and chat endpoints.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchsync",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Current number of active sessions, by domain (watch_party|chat)",
	}, []string{"domain"})

	// ActiveRooms tracks the current number of active watch-party rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchsync",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the current participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchsync",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_code"})

	// OnlineUsers tracks the current number of distinct online chat users.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchsync",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Current number of distinct users with at least one live chat session",
	})

	// CommandsTotal tracks every typed frame processed, by type and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "gateway",
		Name:      "commands_total",
		Help:      "Total inbound frames processed",
	}, []string{"type", "status"})

	// CommandProcessingDuration tracks per-command processing latency.
	CommandProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchsync",
		Subsystem: "gateway",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing one inbound frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// DirectMessagesDelivered tracks direct-message deliveries by path.
	DirectMessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "directmsg",
		Name:      "delivered_total",
		Help:      "Total direct messages delivered, by delivery path",
	}, []string{"path"}) // "live" or "replay"

	// StoreOperationsTotal tracks external store calls by operation/outcome.
	StoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Total external store operations",
	}, []string{"operation", "status"})

	// StoreOperationDuration tracks external store call latency.
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchsync",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of external store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// RateLimitExceeded tracks requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// ReaperSweeps tracks reaper ticks and how many items each swept.
	ReaperSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Subsystem: "reaper",
		Name:      "swept_total",
		Help:      "Total entities reaped, by kind (session|room|heartbeat)",
	}, []string{"kind"})
)

func IncSession(domain string) {
	ActiveSessions.WithLabelValues(domain).Inc()
}

func DecSession(domain string) {
	ActiveSessions.WithLabelValues(domain).Dec()
}
