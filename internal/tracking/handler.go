package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"quote-service/internal/auth"
	"quote-service/internal/errs"
	"quote-service/internal/events"
	"quote-service/pkg/jwt"
	"quote-service/pkg/kafka"
	"quote-service/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PositionCache is the slice of the redis client the tracking handler uses.
type PositionCache interface {
	SetDriverPosition(ctx context.Context, driverUID string, fields map[string]any, lat, lng float64) error
	GetDriverPosition(ctx context.Context, driverUID string) (map[string]string, error)
	GetNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, count int) ([]string, error)
}

// EventPublisher publishes ingested positions for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// controlMessage is what a connected client sends to manage its groups.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Group  string `json:"group"`  // "ride:<id>", "driver:<uid>" or "admin"
}

// Handler exposes the websocket endpoint and the position ingestion path.
type Handler struct {
	hub   *Hub
	cache PositionCache
	pub   EventPublisher
	log   *slog.Logger
}

// NewHandler wires the tracking handler.
func NewHandler(hub *Hub, cache PositionCache, pub EventPublisher, log *slog.Logger) *Handler {
	return &Handler{hub: hub, cache: cache, pub: pub, log: log}
}

// LocationRoutes returns a chi.Router for the /locations mount point.
func (h *Handler) LocationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	r.Post("/", h.Ingest)
	r.Get("/nearby", h.Nearby) // must come before /{driverUID}
	r.Get("/{driverUID}", h.Latest)

	return r
}

// HandleWS upgrades the connection and runs its control loop. Staff are
// auto-joined to the admin group; everyone else starts with no groups and
// subscribes explicitly.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade error", "err", err)
		return
	}

	conn := &safeConn{ws: ws}
	h.hub.register(conn)
	if auth.IsStaff(claims.Role) {
		h.hub.join(conn, GroupAdmin)
	}
	h.log.Info("ws client connected", "user_id", claims.UserID, "role", claims.Role)

	for {
		_, data, err := conn.readMessage()
		if err != nil {
			break
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.writeJSON(map[string]string{"error": "invalid control message"})
			continue
		}
		h.handleControl(conn, claims, msg)
	}

	h.hub.unregister(conn)
	conn.close()
	h.log.Info("ws client disconnected", "user_id", claims.UserID)
}

func (h *Handler) handleControl(conn *safeConn, claims *jwt.Claims, msg controlMessage) {
	if !allowedGroup(claims, msg.Group) {
		_ = conn.writeJSON(map[string]string{"error": "group not permitted: " + msg.Group})
		return
	}
	switch msg.Action {
	case "subscribe":
		h.hub.join(conn, msg.Group)
		_ = conn.writeJSON(map[string]string{"subscribed": msg.Group})
	case "unsubscribe":
		h.hub.leave(conn, msg.Group)
		_ = conn.writeJSON(map[string]string{"unsubscribed": msg.Group})
	default:
		_ = conn.writeJSON(map[string]string{"error": "unknown action: " + msg.Action})
	}
}

// allowedGroup gates group membership: anyone may follow a specific ride,
// driver-wide and admin-wide feeds are staff only.
func allowedGroup(claims *jwt.Claims, group string) bool {
	switch {
	case len(group) > len(groupRidePrefix) && group[:len(groupRidePrefix)] == groupRidePrefix:
		return true
	case len(group) > len(groupDriverPrefix) && group[:len(groupDriverPrefix)] == groupDriverPrefix:
		return auth.IsStaff(claims.Role)
	case group == GroupAdmin:
		return auth.IsStaff(claims.Role)
	}
	return false
}

// Ingest accepts a driver position report, caches it, broadcasts it and
// publishes it for downstream consumers. Drivers and staff only.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	if !auth.Authorize(claims, auth.PolicyReporter) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	var update LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if update.DriverUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "driver_uid is required"})
		return
	}
	if !validation.ValidCoordinates(update.Latitude, update.Longitude) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "coordinates out of range"})
		return
	}
	if update.TimestampUTC.IsZero() {
		update.TimestampUTC = time.Now().UTC()
	}

	if h.cache != nil {
		fields := map[string]any{
			"ride_id":  update.RideID,
			"lat":      fmt.Sprintf("%f", update.Latitude),
			"lng":      fmt.Sprintf("%f", update.Longitude),
			"heading":  fmt.Sprintf("%f", update.Heading),
			"speed":    fmt.Sprintf("%f", update.Speed),
			"accuracy": fmt.Sprintf("%f", update.Accuracy),
			"ts":       update.TimestampUTC.Format(time.RFC3339),
		}
		if err := h.cache.SetDriverPosition(r.Context(), update.DriverUID, fields, update.Latitude, update.Longitude); err != nil {
			h.log.Error("position cache write failed", "driver_uid", update.DriverUID, "err", err)
		}
	}

	h.hub.BroadcastLocationUpdate(update)

	if h.pub != nil {
		go func(u LocationUpdate) {
			ev := events.DriverLocationEvent{
				RideID:    u.RideID,
				DriverUID: u.DriverUID,
				Latitude:  u.Latitude,
				Longitude: u.Longitude,
				Heading:   u.Heading,
				Speed:     u.Speed,
				Timestamp: u.TimestampUTC.Format(time.RFC3339),
			}
			if err := h.pub.Publish(context.Background(), kafka.TopicDriverLocation, u.DriverUID, ev); err != nil {
				h.log.Error("location event publish failed", "driver_uid", u.DriverUID, "err", err)
			}
		}(update)
	}

	w.WriteHeader(http.StatusAccepted)
}

// Latest returns the most recent cached position for a driver.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "driverUID")
	if h.cache == nil {
		writeJSON(w, errs.HTTPStatus(errs.ErrNotFound), map[string]string{"error": "no recent position for driver " + uid})
		return
	}
	pos, err := h.cache.GetDriverPosition(r.Context(), uid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(pos) == 0 {
		writeJSON(w, errs.HTTPStatus(errs.ErrNotFound), map[string]string{"error": "no recent position for driver " + uid})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Nearby returns driver UIDs within a radius of a point. Staff only.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	claims := jwt.GetClaims(r.Context())
	if !auth.Authorize(claims, auth.PolicyStaff) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	lat, _ := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, _ := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	radius := 5.0
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, _ = strconv.ParseFloat(v, 64)
	}
	if !validation.ValidCoordinates(lat, lng) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "coordinates out of range"})
		return
	}
	if h.cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"drivers": []string{}})
		return
	}
	uids, err := h.cache.GetNearbyDrivers(r.Context(), lat, lng, radius, 10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": uids})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
