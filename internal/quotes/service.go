package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quote-service/internal/audit"
	"quote-service/internal/auth"
	"quote-service/internal/bookings"
	"quote-service/internal/errs"
	"quote-service/internal/events"
	"quote-service/internal/notify"
	"quote-service/internal/observability"
	"quote-service/pkg/jwt"
	"quote-service/pkg/kafka"
	"quote-service/pkg/validation"
)

// Spawner is the slice of the booking service the lifecycle engine uses.
// SpawnFromQuote must be idempotent per quote id; AnnounceSpawned carries the
// creation side effects and is called only after the accept commits;
// ReleaseSpawned compensates a spawn whose accept lost to a concurrent cancel.
type Spawner interface {
	SpawnFromQuote(ctx context.Context, req bookings.SpawnRequest) (*bookings.Booking, bool, error)
	AnnounceSpawned(ctx context.Context, b *bookings.Booking)
	ReleaseSpawned(ctx context.Context, bookingID string) error
}

// EventPublisher is the slice of the kafka client the quote service uses.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Notifier is the slice of the notification dispatcher the service uses.
type Notifier interface {
	Enqueue(msg notify.Message)
}

// Cache invalidates and refreshes read snapshots. Optional; nil disables.
type Cache interface {
	CacheQuote(ctx context.Context, quoteID string, data map[string]string) error
	InvalidateQuote(ctx context.Context, quoteID string) error
}

// transition is one row of the quote state table. Every transition in the
// system passes through this table; there are no status comparisons anywhere
// else, so an illegal transition has exactly one place to fail.
type transition struct {
	from []Status
	to   Status
}

var transitions = map[auth.Action]transition{
	auth.ActionAcknowledge: {from: []Status{StatusPending}, to: StatusAcknowledged},
	auth.ActionRespond:     {from: []Status{StatusAcknowledged}, to: StatusResponded},
	auth.ActionAccept:      {from: []Status{StatusResponded}, to: StatusAccepted},
	auth.ActionCancel:      {from: []Status{StatusPending, StatusAcknowledged, StatusResponded}, to: StatusCancelled},
}

func nextStatus(current Status, action auth.Action) (Status, error) {
	t := transitions[action]
	for _, f := range t.from {
		if f == current {
			return t.to, nil
		}
	}
	var names []string
	for _, f := range t.from {
		names = append(names, string(f))
	}
	return "", errs.Conflict(string(action)+" quote", string(current), strings.Join(names, " or "))
}

// Service is the quote lifecycle engine.
type Service struct {
	store    Store
	spawner  Spawner
	rec      audit.Recorder
	pub      EventPublisher
	notifier Notifier
	cache    Cache
	log      *slog.Logger
}

// NewService creates the lifecycle engine.
func NewService(store Store, spawner Spawner, rec audit.Recorder, pub EventPublisher, notifier Notifier, cache Cache, log *slog.Logger) *Service {
	return &Service{store: store, spawner: spawner, rec: rec, pub: pub, notifier: notifier, cache: cache, log: log}
}

// Submit creates a new Pending quote. Customers only.
func (s *Service) Submit(ctx context.Context, claims *jwt.Claims, req SubmitRequest) (*Quote, error) {
	if !auth.Authorize(claims, auth.PolicyCustomer) {
		s.deny(ctx, claims, "quote.submit", "")
		return nil, errs.Forbidden("submit quote")
	}
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	q := &Quote{
		ID:                  uuid.New().String(),
		Status:              StatusPending,
		CreatedByUserID:     claims.UserID,
		PassengerName:       strings.TrimSpace(req.PassengerName),
		PassengerPhone:      strings.TrimSpace(req.PassengerPhone),
		VehicleClass:        strings.TrimSpace(req.VehicleClass),
		PickupAddress:       strings.TrimSpace(req.PickupAddress),
		DropoffAddress:      strings.TrimSpace(req.DropoffAddress),
		RequestedPickupTime: req.RequestedPickupTime,
		ModifiedByUserID:    claims.UserID,
		ModifiedOnUTC:       now,
		CreatedAt:           now,
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}

	observability.QuoteTransitionsTotal.WithLabelValues("submit", "success").Inc()
	s.rec.Record(ctx, claims.UserID, "quote.submit", "quote", q.ID, audit.OutcomeSuccess)
	s.publishAsync(kafka.TopicQuoteSubmitted, q.ID, events.QuoteSubmittedEvent{
		QuoteID:       q.ID,
		CreatedByUser: q.CreatedByUserID,
		VehicleClass:  q.VehicleClass,
		PickupAddress: q.PickupAddress,
		SubmittedAt:   now.Format(time.RFC3339),
	})
	if s.notifier != nil {
		s.notifier.Enqueue(notify.Message{
			Template:  notify.TemplateQuoteSubmitted,
			Recipient: q.CreatedByUserID,
			Data:      map[string]string{"quote_id": q.ID},
		})
	}
	return q, nil
}

// Get fetches a quote, readable by its owner or by staff.
func (s *Service) Get(ctx context.Context, claims *jwt.Claims, id string) (*Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActOnRecord(claims, q.CreatedByUserID, auth.ActionRead) {
		s.deny(ctx, claims, "quote.read", id)
		return nil, errs.Forbidden("read quote")
	}
	if s.cache != nil {
		_ = s.cache.CacheQuote(ctx, q.ID, map[string]string{
			"status":      string(q.Status),
			"modified_on": q.ModifiedOnUTC.Format(time.RFC3339),
		})
	}
	return q, nil
}

// Acknowledge moves a Pending quote to Acknowledged. Staff only; the role
// gate runs before the record is even loaded.
func (s *Service) Acknowledge(ctx context.Context, claims *jwt.Claims, id string) (*Quote, error) {
	if !auth.Authorize(claims, auth.PolicyStaff) {
		s.deny(ctx, claims, "quote.acknowledge", id)
		return nil, errs.Forbidden("acknowledge quote")
	}
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return s.apply(ctx, q, auth.ActionAcknowledge, claims.UserID, func(q *Quote) {
		q.AcknowledgedAt = &now
		q.AcknowledgedByUserID = &claims.UserID
	})
}

// Respond prices an Acknowledged quote. Staff only. Price must be strictly
// positive and the pickup time acceptably in the future (grace window).
func (s *Service) Respond(ctx context.Context, claims *jwt.Claims, id string, req RespondRequest) (*Quote, error) {
	if !auth.Authorize(claims, auth.PolicyStaff) {
		s.deny(ctx, claims, "quote.respond", id)
		return nil, errs.Forbidden("respond to quote")
	}
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !validation.ValidPrice(req.EstimatedPrice) {
		s.invalid(ctx, claims, "quote.respond", id)
		return nil, errs.Invalid("estimated_price must be greater than zero, got %v", req.EstimatedPrice)
	}
	if !validation.ValidPickupTime(req.EstimatedPickupTime, time.Now()) {
		s.invalid(ctx, claims, "quote.respond", id)
		return nil, errs.Invalid("estimated_pickup_time must be in the future")
	}
	if !validation.ValidNotes(req.Notes) {
		s.invalid(ctx, claims, "quote.respond", id)
		return nil, errs.Invalid("notes too long")
	}

	now := time.Now().UTC()
	price := req.EstimatedPrice
	pickup := req.EstimatedPickupTime.UTC()
	out, err := s.apply(ctx, q, auth.ActionRespond, claims.UserID, func(q *Quote) {
		q.RespondedAt = &now
		q.RespondedByUserID = &claims.UserID
		q.EstimatedPrice = &price
		q.EstimatedPickupTime = &pickup
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			q.Notes = &notes
		}
	})
	if err != nil {
		return nil, err
	}

	s.publishAsync(kafka.TopicQuoteResponded, out.ID, events.QuoteRespondedEvent{
		QuoteID:        out.ID,
		RespondedBy:    claims.UserID,
		EstimatedPrice: price,
		PickupTime:     pickup.Format(time.RFC3339),
	})
	if s.notifier != nil {
		s.notifier.Enqueue(notify.Message{
			Template:  notify.TemplateQuoteResponded,
			Recipient: out.CreatedByUserID,
			Data: map[string]string{
				"quote_id":        out.ID,
				"estimated_price": fmt.Sprintf("%.2f", price),
			},
		})
	}
	return out, nil
}

// Accept moves a Responded quote to Accepted and spawns the booking.
//
// Only the owning customer may accept: acceptance implies financial consent,
// so staff are denied here no matter what they may do elsewhere.
//
// Side-effect order is spawn-then-flip. The spawn is idempotent per quote
// id, so a crash between the booking write and the quote write leaves a
// pre-spawned booking that the retried accept picks up; a spawn failure
// aborts before the quote ever reads Accepted. Creation events and
// notifications fire only after the flip commits, and a flip lost to a
// concurrent cancel releases the spawned booking instead of orphaning it.
func (s *Service) Accept(ctx context.Context, claims *jwt.Claims, id string) (*Quote, *bookings.Booking, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !auth.CanActOnRecord(claims, q.CreatedByUserID, auth.ActionAccept) {
		s.deny(ctx, claims, "quote.accept", id)
		return nil, nil, errs.Forbidden("accept quote")
	}

	if q.Status == StatusAccepted {
		// Heal path: an accepted quote must always have its booking. The
		// idempotent spawn repairs records damaged by a crash between writes;
		// the quote is already committed, so a repair announces immediately.
		if healed, created, healErr := s.spawner.SpawnFromQuote(ctx, spawnRequest(q)); healErr != nil {
			s.log.Error("heal spawn failed for accepted quote", "quote_id", q.ID, "err", healErr)
		} else if created {
			s.spawner.AnnounceSpawned(ctx, healed)
		}
		s.invalid(ctx, claims, "quote.accept", id)
		return nil, nil, errs.Conflict("accept quote", string(q.Status), string(StatusResponded))
	}
	if _, err := nextStatus(q.Status, auth.ActionAccept); err != nil {
		s.invalid(ctx, claims, "quote.accept", id)
		return nil, nil, err
	}

	booking, _, err := s.spawner.SpawnFromQuote(ctx, spawnRequest(q))
	if err != nil {
		// Fatal to the operation: the quote must not read Accepted without
		// a booking behind it.
		s.invalid(ctx, claims, "quote.accept", id)
		return nil, nil, fmt.Errorf("spawn booking for quote %s: %w", q.ID, err)
	}

	out, err := s.apply(ctx, q, auth.ActionAccept, claims.UserID, nil)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			// The flip lost a race. If a cancel won, the spawned booking
			// would otherwise outlive its quote; release it. If another
			// accept won, the idempotent spawn means it is that accept's
			// booking, so it stays.
			if cur, getErr := s.store.Get(ctx, q.ID); getErr == nil && cur.Status == StatusCancelled {
				if relErr := s.spawner.ReleaseSpawned(ctx, booking.ID); relErr != nil {
					s.log.Error("spawned booking not released after lost accept", "quote_id", q.ID, "booking_id", booking.ID, "err", relErr)
				}
			}
		}
		return nil, nil, err
	}
	s.spawner.AnnounceSpawned(ctx, booking)
	return out, booking, nil
}

// Cancel cancels a quote from any non-terminal state. Owner or staff.
// Accepted is terminal for cancel: the spawned booking carries the ride now.
func (s *Service) Cancel(ctx context.Context, claims *jwt.Claims, id string) (*Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActOnRecord(claims, q.CreatedByUserID, auth.ActionCancel) {
		s.deny(ctx, claims, "quote.cancel", id)
		return nil, errs.Forbidden("cancel quote")
	}
	return s.apply(ctx, q, auth.ActionCancel, claims.UserID, nil)
}

// apply runs one transition through the state table: compute the target
// state, mutate a copy, and write it conditional on the state that was read.
// Any failure leaves the stored record untouched and audits a non-success
// outcome; only a winning conditional write audits Success.
func (s *Service) apply(ctx context.Context, q *Quote, action auth.Action, actorID string, mutate func(*Quote)) (*Quote, error) {
	name := "quote." + string(action)
	to, err := nextStatus(q.Status, action)
	if err != nil {
		s.invalid(ctx, nil, name, q.ID)
		s.rec.Record(ctx, actorID, name, "quote", q.ID, audit.OutcomeInvalid)
		return nil, err
	}
	expect := q.Status
	q.Status = to
	if mutate != nil {
		mutate(q)
	}
	q.ModifiedByUserID = actorID
	q.ModifiedOnUTC = time.Now().UTC()

	if err := s.store.UpdateIf(ctx, q, expect); err != nil {
		observability.QuoteTransitionsTotal.WithLabelValues(string(action), "conflict").Inc()
		s.rec.Record(ctx, actorID, name, "quote", q.ID, audit.OutcomeInvalid)
		return nil, err
	}

	observability.QuoteTransitionsTotal.WithLabelValues(string(action), "success").Inc()
	s.rec.Record(ctx, actorID, name, "quote", q.ID, audit.OutcomeSuccess)
	if s.cache != nil {
		_ = s.cache.InvalidateQuote(ctx, q.ID)
	}
	return q, nil
}

func spawnRequest(q *Quote) bookings.SpawnRequest {
	return bookings.SpawnRequest{
		QuoteID:         q.ID,
		CreatedByUserID: q.CreatedByUserID,
		PassengerName:   q.PassengerName,
		PassengerPhone:  q.PassengerPhone,
		VehicleClass:    q.VehicleClass,
		PickupAddress:   q.PickupAddress,
		DropoffAddress:  q.DropoffAddress,
		PickupTime:      q.EstimatedPickupTime,
	}
}

func validateSubmit(req SubmitRequest) error {
	if !validation.ValidName(req.PassengerName) {
		return errs.Invalid("passenger_name is required")
	}
	if strings.TrimSpace(req.PickupAddress) == "" {
		return errs.Invalid("pickup_address is required")
	}
	if strings.TrimSpace(req.DropoffAddress) == "" {
		return errs.Invalid("dropoff_address is required")
	}
	if strings.TrimSpace(req.VehicleClass) == "" {
		return errs.Invalid("vehicle_class is required")
	}
	if req.RequestedPickupTime.IsZero() || !validation.ValidPickupTime(req.RequestedPickupTime, time.Now()) {
		return errs.Invalid("requested_pickup_time must be in the future")
	}
	return nil
}

func (s *Service) deny(ctx context.Context, claims *jwt.Claims, action, targetID string) {
	actor := ""
	if claims != nil {
		actor = claims.UserID
	}
	observability.AuthzDenialsTotal.WithLabelValues(action).Inc()
	s.rec.Record(ctx, actor, action, "quote", targetID, audit.OutcomeForbidden)
}

func (s *Service) invalid(ctx context.Context, claims *jwt.Claims, action, targetID string) {
	shortAction := strings.TrimPrefix(action, "quote.")
	observability.QuoteTransitionsTotal.WithLabelValues(shortAction, "invalid").Inc()
	if claims != nil {
		s.rec.Record(ctx, claims.UserID, action, "quote", targetID, audit.OutcomeInvalid)
	}
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
