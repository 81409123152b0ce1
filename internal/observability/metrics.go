package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuoteTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quote_service", Name: "quote_transitions_total", Help: "Quote lifecycle transitions by action and outcome"},
		[]string{"action", "outcome"},
	)
	AuthzDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quote_service", Name: "authz_denials_total", Help: "Authorization denials by action"},
		[]string{"action"},
	)
	BookingsSpawnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "quote_service", Name: "bookings_spawned_total", Help: "Bookings created from accepted quotes"},
	)
	NotificationsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "quote_service", Name: "notifications_dropped_total", Help: "Notifications dropped because the dispatch queue was full"},
	)
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "quote_service", Name: "ws_connections", Help: "Currently connected location-hub clients"},
	)
	LocationBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "quote_service", Name: "location_broadcasts_total", Help: "Location updates fanned out by the hub"},
	)
)
