package quotes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quote-service/internal/errs"
)

// Store defines persistence operations for quotes. UpdateIf is the
// serialization point for lifecycle transitions: a write conditional on the
// previously-read status means two racing transitions against the same quote
// cannot both succeed, while different quotes never contend.
type Store interface {
	Create(ctx context.Context, q *Quote) error
	Get(ctx context.Context, id string) (*Quote, error)
	// UpdateIf writes q's mutable fields if the stored status still equals
	// expect; errs.ErrConflict otherwise.
	UpdateIf(ctx context.Context, q *Quote, expect Status) error
}

// PGStore persists quotes in postgres.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a postgres-backed quote store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const quoteColumns = `id,status,created_by_user_id,passenger_name,passenger_phone,vehicle_class,
	pickup_address,dropoff_address,requested_pickup_time,
	acknowledged_at,acknowledged_by_user_id,responded_at,responded_by_user_id,
	estimated_price,estimated_pickup_time,notes,modified_by_user_id,modified_on_utc,created_at`

func (s *PGStore) Create(ctx context.Context, q *Quote) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO quotes (`+quoteColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		q.ID, q.Status, q.CreatedByUserID, q.PassengerName, q.PassengerPhone, q.VehicleClass,
		q.PickupAddress, q.DropoffAddress, q.RequestedPickupTime,
		q.AcknowledgedAt, q.AcknowledgedByUserID, q.RespondedAt, q.RespondedByUserID,
		q.EstimatedPrice, q.EstimatedPickupTime, q.Notes, q.ModifiedByUserID, q.ModifiedOnUTC, q.CreatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Quote, error) {
	var q Quote
	err := s.db.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, id).
		Scan(&q.ID, &q.Status, &q.CreatedByUserID, &q.PassengerName, &q.PassengerPhone, &q.VehicleClass,
			&q.PickupAddress, &q.DropoffAddress, &q.RequestedPickupTime,
			&q.AcknowledgedAt, &q.AcknowledgedByUserID, &q.RespondedAt, &q.RespondedByUserID,
			&q.EstimatedPrice, &q.EstimatedPickupTime, &q.Notes, &q.ModifiedByUserID, &q.ModifiedOnUTC, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("quote", id)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PGStore) UpdateIf(ctx context.Context, q *Quote, expect Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE quotes SET status=$1,
			acknowledged_at=$2, acknowledged_by_user_id=$3,
			responded_at=$4, responded_by_user_id=$5,
			estimated_price=$6, estimated_pickup_time=$7, notes=$8,
			modified_by_user_id=$9, modified_on_utc=$10
		 WHERE id=$11 AND status=$12`,
		q.Status,
		q.AcknowledgedAt, q.AcknowledgedByUserID,
		q.RespondedAt, q.RespondedByUserID,
		q.EstimatedPrice, q.EstimatedPickupTime, q.Notes,
		q.ModifiedByUserID, q.ModifiedOnUTC,
		q.ID, expect)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, q.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict("update quote", "changed", string(expect))
	}
	return nil
}

// MemoryStore keeps quotes in a map. Tests and database-less local runs. The
// expected-status check inside the lock gives the same at-most-one-winner
// guarantee as the conditional SQL update.
type MemoryStore struct {
	mu     sync.Mutex
	quotes map[string]*Quote
}

// NewMemoryStore creates an empty in-memory quote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[string]*Quote)}
}

func (s *MemoryStore) Create(ctx context.Context, q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.quotes[q.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, errs.NotFound("quote", id)
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) UpdateIf(ctx context.Context, q *Quote, expect Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.quotes[q.ID]
	if !ok {
		return errs.NotFound("quote", q.ID)
	}
	if cur.Status != expect {
		return errs.Conflict("update quote", string(cur.Status), string(expect))
	}
	cp := *q
	s.quotes[q.ID] = &cp
	return nil
}
