package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome of an attempted state-changing action.
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomeForbidden = "FORBIDDEN"
	OutcomeInvalid   = "INVALID"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted by ordinary operations.
type Entry struct {
	ID          string    `json:"id"`
	ActorUserID string    `json:"actor_user_id"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recorder appends audit entries. Recording is best-effort-but-attempted:
// callers log failures and carry on, they never roll back domain writes
// because an audit insert failed.
type Recorder interface {
	Record(ctx context.Context, actorUserID, action, targetType, targetID, outcome string) error
}

// PGRecorder appends entries to the audit_log table.
type PGRecorder struct {
	db *pgxpool.Pool
}

// NewPGRecorder creates a postgres-backed recorder.
func NewPGRecorder(db *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{db: db}
}

func (r *PGRecorder) Record(ctx context.Context, actorUserID, action, targetType, targetID, outcome string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (id,actor_user_id,action,target_type,target_id,outcome,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New().String(), actorUserID, action, targetType, targetID, outcome, time.Now().UTC())
	return err
}

// MemoryRecorder collects entries in memory. Used in tests and as a fallback
// when no database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, actorUserID, action, targetType, targetID, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		ID:          uuid.New().String(),
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Outcome:     outcome,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Logged wraps a recorder so failures are logged instead of surfaced.
type Logged struct {
	Inner Recorder
	Log   *slog.Logger
}

func (l *Logged) Record(ctx context.Context, actorUserID, action, targetType, targetID, outcome string) error {
	if err := l.Inner.Record(ctx, actorUserID, action, targetType, targetID, outcome); err != nil {
		l.Log.Error("audit record failed", "action", action, "target", targetID, "err", err)
	}
	return nil
}
