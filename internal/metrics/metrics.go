// Package metrics provides Prometheus instrumentation for the signaling
// server. It exposes gauges for connection, queue, and room counts, counters
// for relayed message throughput, and histograms for wait times and room
// durations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedClients tracks the current number of registered WebSocket
	// connections.
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairwave_connected_clients",
		Help: "Current number of connected clients",
	})

	// WaitingClients tracks the current length of the waiting queue.
	WaitingClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairwave_waiting_clients",
		Help: "Current number of clients awaiting a partner",
	})

	// ActiveRooms tracks the current number of active one-to-one rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairwave_active_rooms",
		Help: "Current number of active rooms",
	})

	// MessagesRelayed counts signaling messages forwarded between room
	// members, labeled by message type: "offer", "answer", "ice-candidate",
	// or "chat-message".
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwave_messages_relayed_total",
		Help: "Total number of signaling messages relayed",
	}, []string{"type"})

	// MessagesDropped counts signaling messages discarded because the sender
	// had no current room, labeled by message type.
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwave_messages_dropped_total",
		Help: "Total number of signaling messages dropped (sender not in a room)",
	}, []string{"type"})

	// MatchWaitTime records how long participants sat in the waiting queue
	// before being matched.
	MatchWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairwave_match_wait_seconds",
		Help:    "Time from join request to match",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	// RoomDuration records the lifetime of rooms from creation to teardown.
	RoomDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairwave_room_duration_seconds",
		Help:    "Room lifetime from creation to teardown",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectedClients,
		WaitingClients,
		ActiveRooms,
		MessagesRelayed,
		MessagesDropped,
		MatchWaitTime,
		RoomDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
