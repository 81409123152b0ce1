package bookings

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quote-service/internal/audit"
	"quote-service/internal/auth"
	"quote-service/internal/errs"
	"quote-service/internal/events"
	"quote-service/internal/notify"
	"quote-service/internal/observability"
	"quote-service/pkg/jwt"
	"quote-service/pkg/kafka"
)

// EventPublisher is the slice of the kafka client the booking service uses.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Notifier is the slice of the notification dispatcher the service uses.
type Notifier interface {
	Enqueue(msg notify.Message)
}

// transition is one row of the booking state table. All status checks go
// through this table; there are no scattered status comparisons.
type transition struct {
	from []string
	to   string
}

var transitions = map[string]transition{
	"confirm":  {from: []string{StatusRequested}, to: StatusConfirmed},
	"assign":   {from: []string{StatusRequested, StatusConfirmed}, to: StatusScheduled},
	"start":    {from: []string{StatusScheduled}, to: StatusInProgress},
	"complete": {from: []string{StatusInProgress}, to: StatusCompleted},
	"no_show":  {from: []string{StatusScheduled}, to: StatusNoShow},
	"cancel":   {from: []string{StatusRequested, StatusConfirmed, StatusScheduled}, to: StatusCancelled},
}

func next(action, current string) (string, error) {
	t := transitions[action]
	for _, f := range t.from {
		if f == current {
			return t.to, nil
		}
	}
	return "", errs.Conflict(action+" booking", current, strings.Join(t.from, " or "))
}

// Service contains booking business logic.
type Service struct {
	store    Store
	rec      audit.Recorder
	pub      EventPublisher
	notifier Notifier
	log      *slog.Logger
}

// NewService creates a booking service.
func NewService(store Store, rec audit.Recorder, pub EventPublisher, notifier Notifier, log *slog.Logger) *Service {
	return &Service{store: store, rec: rec, pub: pub, notifier: notifier, log: log}
}

// SpawnFromQuote materialises a booking from an accepted quote. Idempotent:
// re-spawning for the same quote returns the already-created booking (created
// false), so the caller can retry after a crash between the booking write and
// the quote write. No events or notifications fire here; the caller invokes
// AnnounceSpawned once its own commit has succeeded.
func (s *Service) SpawnFromQuote(ctx context.Context, req SpawnRequest) (*Booking, bool, error) {
	now := time.Now().UTC()
	quoteID := req.QuoteID
	b := &Booking{
		ID:              uuid.New().String(),
		SourceQuoteID:   &quoteID,
		CreatedByUserID: req.CreatedByUserID,
		PassengerName:   req.PassengerName,
		PassengerPhone:  req.PassengerPhone,
		VehicleClass:    req.VehicleClass,
		PickupAddress:   req.PickupAddress,
		DropoffAddress:  req.DropoffAddress,
		PickupTime:      req.PickupTime,
		Status:          StatusRequested,
		ModifiedByUser:  req.CreatedByUserID,
		ModifiedOnUTC:   now,
		CreatedAt:       now,
	}
	created, err := s.store.Create(ctx, b)
	if err != nil {
		return nil, false, err
	}
	if created.ID != b.ID {
		s.log.Info("booking already spawned for quote, reusing", "quote_id", quoteID, "booking_id", created.ID)
		return created, false, nil
	}
	observability.BookingsSpawnedTotal.Inc()
	return created, true, nil
}

// AnnounceSpawned publishes booking.created and queues the customer
// notification for a spawned booking. Callers invoke it only after the accept
// that spawned the booking has committed; a lost accept race must not leak a
// creation side effect.
func (s *Service) AnnounceSpawned(ctx context.Context, b *Booking) {
	quoteID := ""
	if b.SourceQuoteID != nil {
		quoteID = *b.SourceQuoteID
	}
	s.publishAsync(kafka.TopicBookingCreated, b.ID, events.BookingCreatedEvent{
		BookingID:     b.ID,
		SourceQuoteID: quoteID,
		CreatedByUser: b.CreatedByUserID,
		PickupTime:    formatTime(b.PickupTime),
	})
	if s.notifier != nil {
		s.notifier.Enqueue(notify.Message{
			Template:  notify.TemplateBookingCreated,
			Recipient: b.CreatedByUserID,
			Data:      map[string]string{"booking_id": b.ID, "quote_id": quoteID},
		})
	}
}

// ReleaseSpawned cancels a booking whose accept never committed. The actor is
// recorded as system: the compensation is not attributable to a user action.
func (s *Service) ReleaseSpawned(ctx context.Context, id string) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, b, "cancel", "system", nil)
	return err
}

// Get fetches a booking, readable by its owner or by staff.
func (s *Service) Get(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActOnRecord(claims, b.CreatedByUserID, auth.ActionRead) {
		s.deny(ctx, claims, "booking.read", id)
		return nil, errs.Forbidden("read booking")
	}
	return b, nil
}

// Confirm moves a Requested booking to Confirmed. Staff only.
func (s *Service) Confirm(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	return s.staffTransition(ctx, claims, id, "confirm", nil)
}

// Assign sets the driver and schedules the booking. Staff only; this is the
// only path that writes the driver reference.
func (s *Service) Assign(ctx context.Context, claims *jwt.Claims, id, driverUID string) (*Booking, error) {
	if strings.TrimSpace(driverUID) == "" {
		return nil, errs.Invalid("driver_uid is required")
	}
	b, err := s.staffTransition(ctx, claims, id, "assign", &driverUID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Enqueue(notify.Message{
			Template:  notify.TemplateBookingAssigned,
			Recipient: b.CreatedByUserID,
			Data:      map[string]string{"booking_id": b.ID, "driver_uid": driverUID},
		})
	}
	return b, nil
}

// Start moves a Scheduled booking to InProgress. Staff only.
func (s *Service) Start(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	return s.staffTransition(ctx, claims, id, "start", nil)
}

// Complete moves an InProgress booking to Completed. Staff only.
func (s *Service) Complete(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	return s.staffTransition(ctx, claims, id, "complete", nil)
}

// NoShow marks a Scheduled booking as a no-show. Staff only.
func (s *Service) NoShow(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	return s.staffTransition(ctx, claims, id, "no_show", nil)
}

// Cancel cancels a non-terminal booking. Owner or staff.
func (s *Service) Cancel(ctx context.Context, claims *jwt.Claims, id string) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActOnRecord(claims, b.CreatedByUserID, auth.ActionCancel) {
		s.deny(ctx, claims, "booking.cancel", id)
		return nil, errs.Forbidden("cancel booking")
	}
	return s.apply(ctx, b, "cancel", claims.UserID, nil)
}

func (s *Service) staffTransition(ctx context.Context, claims *jwt.Claims, id, action string, driverUID *string) (*Booking, error) {
	if !auth.Authorize(claims, auth.PolicyStaff) {
		s.deny(ctx, claims, "booking."+action, id)
		return nil, errs.Forbidden(action + " booking")
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, b, action, claims.UserID, driverUID)
}

// apply runs one conditional transition and records the audit outcome.
func (s *Service) apply(ctx context.Context, b *Booking, action, actorID string, driverUID *string) (*Booking, error) {
	to, err := next(action, b.Status)
	if err != nil {
		s.rec.Record(ctx, actorID, "booking."+action, "booking", b.ID, audit.OutcomeInvalid)
		return nil, err
	}
	expect := b.Status
	b.Status = to
	if driverUID != nil {
		b.DriverUID = driverUID
	}
	b.ModifiedByUser = actorID
	b.ModifiedOnUTC = time.Now().UTC()
	if err := s.store.UpdateIf(ctx, b, expect); err != nil {
		s.rec.Record(ctx, actorID, "booking."+action, "booking", b.ID, audit.OutcomeInvalid)
		return nil, err
	}
	s.rec.Record(ctx, actorID, "booking."+action, "booking", b.ID, audit.OutcomeSuccess)
	return b, nil
}

// StartDriverAssignedConsumer applies assignments published by the
// downstream matching subsystem on driver.assigned.
func (s *Service) StartDriverAssignedConsumer(ctx context.Context, sub interface {
	Subscribe(ctx context.Context, topic, groupID string, handler func([]byte) error)
}) {
	sub.Subscribe(ctx, kafka.TopicDriverAssigned, "booking-driver-assigned", func(data []byte) error {
		var ev events.DriverAssignedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		b, err := s.store.Get(ctx, ev.BookingID)
		if err != nil {
			return err
		}
		if _, err := s.apply(ctx, b, "assign", "system", &ev.DriverUID); err != nil {
			s.log.Warn("driver.assigned not applied", "booking_id", ev.BookingID, "err", err)
			return nil // wrong-state events are not retryable
		}
		s.log.Info("driver assigned", "booking_id", ev.BookingID, "driver_uid", ev.DriverUID)
		return nil
	})
}

func (s *Service) deny(ctx context.Context, claims *jwt.Claims, action, targetID string) {
	actor := ""
	if claims != nil {
		actor = claims.UserID
	}
	observability.AuthzDenialsTotal.WithLabelValues(action).Inc()
	s.rec.Record(ctx, actor, action, "booking", targetID, audit.OutcomeForbidden)
}

func (s *Service) publishAsync(topic, key string, value any) {
	if s.pub == nil {
		return
	}
	go func() {
		if err := s.pub.Publish(context.Background(), topic, key, value); err != nil {
			s.log.Error("event publish failed", "topic", topic, "key", key, "err", err)
		}
	}()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
