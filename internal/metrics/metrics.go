// Package metrics declares the Prometheus metrics for the signaling
// controller, following the teacher's internal/v1/metrics naming
// convention (namespace "opentalk", subsystem per feature area) and metric
// type choices (Gauge for current state, Counter for cumulative events,
// Histogram for latency distributions).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opentalk", Subsystem: "websocket", Name: "connections_active",
		Help: "Current number of active WebSocket sessions.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opentalk", Subsystem: "room", Name: "rooms_active",
		Help: "Current number of signaling rooms with at least one participant.",
	})

	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opentalk", Subsystem: "room", Name: "participants_count",
		Help: "Number of participants in each signaling room.",
	}, []string{"signaling_room_id"})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "websocket", Name: "events_total",
		Help: "Total client WebSocket messages processed, by namespace and outcome.",
	}, []string{"namespace", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opentalk", Subsystem: "websocket", Name: "message_processing_seconds",
		Help:    "Time spent dispatching a client WebSocket message to its module.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"namespace"})

	ExchangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "exchange", Name: "events_total",
		Help: "Total exchange publish/deliver operations, by direction and outcome.",
	}, []string{"direction", "status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opentalk", Subsystem: "circuit_breaker", Name: "state",
		Help: "Current state of a circuit breaker (0=closed,1=open,2=half-open).",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "circuit_breaker", Name: "failures_total",
		Help: "Total requests rejected by a circuit breaker.",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "rate_limit", Name: "exceeded_total",
		Help: "Total requests that exceeded their rate limit.",
	}, []string{"endpoint"})

	StoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "store", Name: "operations_total",
		Help: "Total volatile-store operations, by sub-store and outcome.",
	}, []string{"substore", "status"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opentalk", Subsystem: "store", Name: "operation_duration_seconds",
		Help:    "Duration of volatile-store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"substore"})

	MutexAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "mutex", Name: "acquisitions_total",
		Help: "Total distributed mutex acquisition attempts, by outcome.",
	}, []string{"status"})

	RoomCleanups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opentalk", Subsystem: "room", Name: "cleanups_total",
		Help: "Total room cleanup operations, by scope.",
	}, []string{"scope"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
