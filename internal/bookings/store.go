package bookings

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quote-service/internal/errs"
)

// Store defines persistence operations for bookings. Updates are conditional
// on the previously-read status so concurrent transitions against the same
// booking cannot both succeed.
type Store interface {
	// Create inserts a booking. For quote-spawned bookings it is idempotent
	// on SourceQuoteID: if a booking already exists for that quote the
	// existing record is returned instead of a duplicate.
	Create(ctx context.Context, b *Booking) (*Booking, error)
	Get(ctx context.Context, id string) (*Booking, error)
	GetBySourceQuote(ctx context.Context, quoteID string) (*Booking, error)
	// UpdateIf writes b's mutable fields if the stored status is expect.
	// Returns errs.ErrConflict when the status moved underneath the caller.
	UpdateIf(ctx context.Context, b *Booking, expect string) error
}

// PGStore persists bookings in postgres.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a postgres-backed booking store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const bookingColumns = `id,source_quote_id,created_by_user_id,passenger_name,passenger_phone,
	vehicle_class,pickup_address,dropoff_address,pickup_time,driver_uid,status,
	modified_by_user_id,modified_on_utc,created_at`

func (s *PGStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (source_quote_id) DO NOTHING`,
		b.ID, b.SourceQuoteID, b.CreatedByUserID, b.PassengerName, b.PassengerPhone,
		b.VehicleClass, b.PickupAddress, b.DropoffAddress, b.PickupTime, b.DriverUID, b.Status,
		b.ModifiedByUser, b.ModifiedOnUTC, b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 && b.SourceQuoteID != nil {
		// Already spawned for this quote; hand back the existing booking.
		return s.GetBySourceQuote(ctx, *b.SourceQuoteID)
	}
	return b, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Booking, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id), "booking", id)
}

func (s *PGStore) GetBySourceQuote(ctx context.Context, quoteID string) (*Booking, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE source_quote_id=$1`, quoteID), "booking for quote", quoteID)
}

func (s *PGStore) scanOne(row pgx.Row, kind, id string) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.SourceQuoteID, &b.CreatedByUserID, &b.PassengerName, &b.PassengerPhone,
		&b.VehicleClass, &b.PickupAddress, &b.DropoffAddress, &b.PickupTime, &b.DriverUID, &b.Status,
		&b.ModifiedByUser, &b.ModifiedOnUTC, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound(kind, id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PGStore) UpdateIf(ctx context.Context, b *Booking, expect string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings SET status=$1, driver_uid=$2, modified_by_user_id=$3, modified_on_utc=$4
		 WHERE id=$5 AND status=$6`,
		b.Status, b.DriverUID, b.ModifiedByUser, b.ModifiedOnUTC, b.ID, expect)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, b.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict("update booking", "changed", expect)
	}
	return nil
}

// MemoryStore keeps bookings in a map. Tests and database-less local runs.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Booking
	byQuote  map[string]string
	FailNext error // when set, the next Create returns this error once
}

// NewMemoryStore creates an empty in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Booking), byQuote: make(map[string]string)}
}

func (s *MemoryStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return nil, err
	}
	if b.SourceQuoteID != nil {
		if existingID, ok := s.byQuote[*b.SourceQuoteID]; ok {
			cp := *s.byID[existingID]
			return &cp, nil
		}
		s.byQuote[*b.SourceQuoteID] = b.ID
	}
	cp := *b
	s.byID[b.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return nil, errs.NotFound("booking", id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetBySourceQuote(ctx context.Context, quoteID string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byQuote[quoteID]
	if !ok {
		return nil, errs.NotFound("booking for quote", quoteID)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateIf(ctx context.Context, b *Booking, expect string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[b.ID]
	if !ok {
		return errs.NotFound("booking", b.ID)
	}
	if cur.Status != expect {
		return errs.Conflict("update booking", cur.Status, expect)
	}
	cur.Status = b.Status
	cur.DriverUID = b.DriverUID
	cur.ModifiedByUser = b.ModifiedByUser
	cur.ModifiedOnUTC = b.ModifiedOnUTC
	return nil
}
