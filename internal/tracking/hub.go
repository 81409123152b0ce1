package tracking

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quote-service/internal/observability"
)

// Group address prefixes. A location update fans out to the ride group, the
// driver group and the global admin group in one broadcast.
const (
	GroupAdmin = "admin"

	groupRidePrefix   = "ride:"
	groupDriverPrefix = "driver:"
)

// RideGroup returns the group address for a specific ride.
func RideGroup(rideID string) string { return groupRidePrefix + rideID }

// DriverGroup returns the group address for a specific driver.
func DriverGroup(driverUID string) string { return groupDriverPrefix + driverUID }

// LocationUpdate is the ephemeral payload relayed by the hub. Nothing here is
// persisted; late subscribers simply miss earlier broadcasts.
type LocationUpdate struct {
	RideID       string    `json:"ride_id"`
	DriverUID    string    `json:"driver_uid"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Heading      float64   `json:"heading"`
	Speed        float64   `json:"speed"`
	Accuracy     float64   `json:"accuracy"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

// safeConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket allows one concurrent writer; this enforces that, and it
// also means one slow subscriber only stalls its own writes.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *safeConn) readMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *safeConn) close() { c.ws.Close() }

// Hub manages group membership and fan-out. Membership operations are safe
// under concurrent connect/disconnect from many clients; a subscribe for one
// connection never blocks membership changes for another beyond the map lock.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*safeConn]struct{}
	member map[*safeConn]map[string]struct{}
	log    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*safeConn]struct{}),
		member: make(map[*safeConn]map[string]struct{}),
		log:    log,
	}
}

func (h *Hub) register(conn *safeConn) {
	h.mu.Lock()
	h.member[conn] = make(map[string]struct{})
	h.mu.Unlock()
	observability.WSConnections.Inc()
}

func (h *Hub) join(conn *safeConn, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.member[conn]; !ok {
		return // disconnected while the control message was in flight
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[*safeConn]struct{})
	}
	h.groups[group][conn] = struct{}{}
	h.member[conn][group] = struct{}{}
}

func (h *Hub) leave(conn *safeConn, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(conn, group)
}

func (h *Hub) unregister(conn *safeConn) {
	h.mu.Lock()
	for group := range h.member[conn] {
		h.dropLocked(conn, group)
	}
	delete(h.member, conn)
	h.mu.Unlock()
	observability.WSConnections.Dec()
}

func (h *Hub) dropLocked(conn *safeConn, group string) {
	if conns, ok := h.groups[group]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.member[conn]; ok {
		delete(groups, group)
	}
}

// BroadcastLocationUpdate fans a position update out to the ride group, the
// driver group and the admin group. A connection subscribed to more than one
// of those receives a single copy. Delivery per subscriber is independent:
// a write error is logged and the remaining subscribers still get theirs.
func (h *Hub) BroadcastLocationUpdate(update LocationUpdate) {
	targets := make(map[*safeConn]struct{})
	h.mu.RLock()
	for _, group := range []string{RideGroup(update.RideID), DriverGroup(update.DriverUID), GroupAdmin} {
		for conn := range h.groups[group] {
			targets[conn] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for conn := range targets {
		if err := conn.writeJSON(update); err != nil {
			h.log.Debug("ws write error", "err", err)
		}
	}
	observability.LocationBroadcastsTotal.Inc()
}
