package bookings

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quote-service/internal/audit"
	"quote-service/internal/errs"
	"quote-service/internal/notify"
	"quote-service/pkg/jwt"
)

func newSvc(t *testing.T) (*Service, *MemoryStore, *audit.MemoryRecorder) {
	t.Helper()
	store := NewMemoryStore()
	rec := audit.NewMemoryRecorder()
	return NewService(store, rec, nil, nil, slog.Default()), store, rec
}

func spawnReq(quoteID string) SpawnRequest {
	pickup := time.Now().Add(time.Hour)
	return SpawnRequest{
		QuoteID:         quoteID,
		CreatedByUserID: "u1",
		PassengerName:   "Ada Lovelace",
		PassengerPhone:  "+15551234567",
		VehicleClass:    "sedan",
		PickupAddress:   "1 Main St",
		DropoffAddress:  "99 Airport Rd",
		PickupTime:      &pickup,
	}
}

func TestSpawnFromQuote(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	b, created, err := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !created {
		t.Fatal("first spawn must report created")
	}
	if b.Status != StatusRequested {
		t.Fatalf("expected REQUESTED, got %s", b.Status)
	}
	if b.SourceQuoteID == nil || *b.SourceQuoteID != "q1" {
		t.Fatalf("source quote not linked: %+v", b)
	}
	if b.ID == "q1" {
		t.Fatal("booking id must be independent of the quote id")
	}
	if b.CreatedByUserID != "u1" || b.PassengerName != "Ada Lovelace" {
		t.Fatalf("quote fields not copied: %+v", b)
	}
}

func TestSpawnIsIdempotentPerQuote(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	first, _, err := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	second, created, err := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if err != nil {
		t.Fatalf("re-spawn: %v", err)
	}
	if created {
		t.Fatal("re-spawn must not report created")
	}
	if second.ID != first.ID {
		t.Fatalf("re-spawn created a duplicate: %s vs %s", second.ID, first.ID)
	}
}

func TestAssignSetsDriverAndSchedules(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()
	d := &jwt.Claims{UserID: "d1", Role: "dispatcher"}

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	got, err := svc.Assign(ctx, d, b.ID, "drv-7")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != StatusScheduled || got.DriverUID == nil || *got.DriverUID != "drv-7" {
		t.Fatalf("assign did not schedule: %+v", got)
	}

	if _, err := svc.Assign(ctx, d, b.ID, ""); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("blank driver_uid: expected validation error, got %v", err)
	}
}

func TestCustomerCannotAssign(t *testing.T) {
	svc, _, rec := newSvc(t)
	ctx := context.Background()

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	_, err := svc.Assign(ctx, &jwt.Claims{UserID: "u1", Role: "booker"}, b.ID, "drv-7")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	found := false
	for _, e := range rec.Entries() {
		if e.Action == "booking.assign" && e.Outcome == audit.OutcomeForbidden {
			found = true
		}
	}
	if !found {
		t.Fatal("denied assign must be audited")
	}
}

func TestBookingLifecycleOrder(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()
	d := &jwt.Claims{UserID: "d1", Role: "dispatcher"}

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))

	// start before assignment is a conflict
	if _, err := svc.Start(ctx, d, b.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("start from REQUESTED: expected conflict, got %v", err)
	}

	if _, err := svc.Confirm(ctx, d, b.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Assign(ctx, d, b.ID, "drv-7"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Start(ctx, d, b.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := svc.Complete(ctx, d, b.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	// completed is terminal
	if _, err := svc.Cancel(ctx, d, b.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("cancel after complete: expected conflict, got %v", err)
	}
}

func TestOwnerCanCancelOwnBooking(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	got, err := svc.Cancel(ctx, &jwt.Claims{UserID: "u1", Role: "booker"}, b.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}

	b2, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q2"))
	if _, err := svc.Cancel(ctx, &jwt.Claims{UserID: "u9", Role: "booker"}, b2.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign cancel: expected forbidden, got %v", err)
	}
}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *captureNotifier) Enqueue(msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *captureNotifier) count(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.msgs {
		if m.Template == template {
			c++
		}
	}
	return c
}

// Spawning alone has no side effects; announcing carries them.
func TestSpawnSideEffectsFireOnAnnounce(t *testing.T) {
	notifier := &captureNotifier{}
	svc := NewService(NewMemoryStore(), audit.NewMemoryRecorder(), nil, notifier, slog.Default())
	ctx := context.Background()

	b, _, err := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if got := notifier.count(notify.TemplateBookingCreated); got != 0 {
		t.Fatalf("spawn must not notify, got %d messages", got)
	}

	svc.AnnounceSpawned(ctx, b)
	if got := notifier.count(notify.TemplateBookingCreated); got != 1 {
		t.Fatalf("expected 1 booking_created after announce, got %d", got)
	}
}

func TestReleaseSpawnedCancels(t *testing.T) {
	svc, store, _ := newSvc(t)
	ctx := context.Background()

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if err := svc.ReleaseSpawned(ctx, b.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := store.Get(ctx, b.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("released booking should be CANCELLED, got %s", got.Status)
	}
	if got.ModifiedByUser != "system" {
		t.Fatalf("release should be attributed to system, got %s", got.ModifiedByUser)
	}
	if err := svc.ReleaseSpawned(ctx, b.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second release: expected conflict, got %v", err)
	}
}

func TestGetVisibility(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	b, _, _ := svc.SpawnFromQuote(ctx, spawnReq("q1"))
	if _, err := svc.Get(ctx, &jwt.Claims{UserID: "u1", Role: "booker"}, b.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(ctx, &jwt.Claims{UserID: "a1", Role: "admin"}, b.ID); err != nil {
		t.Fatalf("staff get: %v", err)
	}
	if _, err := svc.Get(ctx, &jwt.Claims{UserID: "u2", Role: "booker"}, b.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign get: expected forbidden, got %v", err)
	}
}
