package tracking

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quote-service/pkg/jwt"
)

// wsTestServer serves HandleWS with fixed claims injected per connection, the
// way OptionalAuth would have after validating a token.
func wsTestServer(t *testing.T, h *Handler, claims *jwt.Claims) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWS(w, r.WithContext(jwt.WithClaims(r.Context(), claims)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var v map[string]any
	if err := ws.ReadJSON(&v); err != nil {
		t.Fatalf("read: %v", err)
	}
	return v
}

func sendControl(t *testing.T, ws *websocket.Conn, action, group string) map[string]any {
	t.Helper()
	if err := ws.WriteJSON(controlMessage{Action: action, Group: group}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	return readJSON(t, ws)
}

func update(rideID, driverUID string) LocationUpdate {
	return LocationUpdate{
		RideID:       rideID,
		DriverUID:    driverUID,
		Latitude:     51.5,
		Longitude:    -0.12,
		TimestampUTC: time.Now().UTC(),
	}
}

func TestRideSubscriberReceivesBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "u1", Role: "booker"})

	ws := dial(t, srv)
	if ack := sendControl(t, ws, "subscribe", RideGroup("r1")); ack["subscribed"] != RideGroup("r1") {
		t.Fatalf("subscribe not acked: %v", ack)
	}

	hub.BroadcastLocationUpdate(update("r1", "drv-7"))

	got := readJSON(t, ws)
	if got["ride_id"] != "r1" || got["driver_uid"] != "drv-7" {
		t.Fatalf("wrong broadcast payload: %v", got)
	}
}

func TestOtherRideSubscriberGetsNothing(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "u1", Role: "booker"})

	ws := dial(t, srv)
	sendControl(t, ws, "subscribe", RideGroup("r2"))

	hub.BroadcastLocationUpdate(update("r1", "drv-7"))

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("subscriber of another ride received the update")
	}
}

func TestStaffAutoJoinsAdminGroup(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "a1", Role: "admin"})

	ws := dial(t, srv)
	// no subscribe: admins get every update via the admin group
	waitForMembers(t, hub, GroupAdmin, 1)

	hub.BroadcastLocationUpdate(update("r1", "drv-7"))

	got := readJSON(t, ws)
	if got["ride_id"] != "r1" {
		t.Fatalf("admin did not receive the update: %v", got)
	}
}

func TestCustomerDeniedDriverAndAdminGroups(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "u1", Role: "passenger"})

	ws := dial(t, srv)
	for _, group := range []string{DriverGroup("drv-7"), GroupAdmin} {
		if resp := sendControl(t, ws, "subscribe", group); resp["error"] == nil {
			t.Fatalf("customer subscribed to %s: %v", group, resp)
		}
	}
}

// A staff connection in both the admin group and a ride group must receive a
// single copy of an update that targets both.
func TestOverlappingGroupsDeliverOnce(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "d1", Role: "dispatcher"})

	ws := dial(t, srv)
	sendControl(t, ws, "subscribe", RideGroup("r1"))
	waitForMembers(t, hub, GroupAdmin, 1)

	hub.BroadcastLocationUpdate(update("r1", "drv-7"))

	if got := readJSON(t, ws); got["ride_id"] != "r1" {
		t.Fatalf("missing update: %v", got)
	}
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("update delivered twice to one connection")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "u1", Role: "booker"})

	ws := dial(t, srv)
	sendControl(t, ws, "subscribe", RideGroup("r1"))
	sendControl(t, ws, "unsubscribe", RideGroup("r1"))

	hub.BroadcastLocationUpdate(update("r1", "drv-7"))

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("received update after unsubscribe")
	}
}

func TestIngestValidatesAndBroadcasts(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	srv := wsTestServer(t, h, &jwt.Claims{UserID: "u1", Role: "booker"})

	ws := dial(t, srv)
	sendControl(t, ws, "subscribe", RideGroup("r1"))

	post := func(claims *jwt.Claims, body LocationUpdate) *httptest.ResponseRecorder {
		buf, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/locations", bytes.NewReader(buf))
		req = req.WithContext(jwt.WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		h.Ingest(w, req)
		return w
	}

	driver := &jwt.Claims{UserID: "drv-7", Role: "driver"}

	if w := post(&jwt.Claims{UserID: "u1", Role: "booker"}, update("r1", "drv-7")); w.Code != http.StatusForbidden {
		t.Fatalf("customer ingest: got %d, want 403", w.Code)
	}
	bad := update("r1", "drv-7")
	bad.Latitude = 99
	if w := post(driver, bad); w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range ingest: got %d, want 400", w.Code)
	}
	if w := post(driver, update("r1", "drv-7")); w.Code != http.StatusAccepted {
		t.Fatalf("driver ingest: got %d, want 202", w.Code)
	}

	got := readJSON(t, ws)
	if got["driver_uid"] != "drv-7" {
		t.Fatalf("ingested position not broadcast: %v", got)
	}
}

// A handler wired without a position cache must degrade to empty reads, not
// crash.
func TestReadsWithoutPositionCache(t *testing.T) {
	hub := NewHub(slog.Default())
	h := NewHandler(hub, nil, nil, slog.Default())
	routes := h.LocationRoutes()
	d := &jwt.Claims{UserID: "d1", Role: "dispatcher"}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(jwt.WithClaims(req.Context(), d))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		return w
	}

	if w := get("/drv-7"); w.Code != http.StatusNotFound {
		t.Fatalf("latest without cache: got %d, want 404", w.Code)
	}
	w := get("/nearby?lat=51.5&lng=-0.12")
	if w.Code != http.StatusOK {
		t.Fatalf("nearby without cache: got %d, want 200", w.Code)
	}
	var resp struct {
		Drivers []string `json:"drivers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Drivers) != 0 {
		t.Fatalf("expected no drivers, got %v", resp.Drivers)
	}
}

// waitForMembers waits until a group reaches the wanted size; joining happens
// on the server goroutine after the upgrade, so tests must not race it.
func waitForMembers(t *testing.T, hub *Hub, group string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.groups[group])
		hub.mu.RUnlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("group %s never reached %d members", group, want)
}
