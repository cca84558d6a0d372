package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one audit record: who did what to which entity.
type Entry struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	Action     string                 `db:"action" json:"action"`
	EntityType string                 `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID              `db:"entity_id" json:"entity_id"`
	ActorID    string                 `db:"actor_id" json:"actor_id"`
	Details    map[string]interface{} `db:"details" json:"details,omitempty"`
	RecordedAt time.Time              `db:"recorded_at" json:"recorded_at"`
}

// Recorder is what domain services see: a best-effort sink that never
// returns an error into the adjudication path.
type Recorder interface {
	Record(action, entityType string, entityID uuid.UUID, actorID string, details map[string]interface{})
}

// Repository persists audit entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
}

// Sink buffers entries on a channel and persists them from a background
// worker, so a slow or failing audit store can never block or fail the
// transaction that produced the entry. Overflow and write errors are
// logged and dropped.
type Sink struct {
	repo   Repository
	logger zerolog.Logger
	ch     chan Entry
	done   chan struct{}
}

func NewSink(repo Repository, logger zerolog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{
		repo:   repo,
		logger: logger,
		ch:     make(chan Entry, buffer),
		done:   make(chan struct{}),
	}
}

// Record implements Recorder. It enqueues without blocking; when the buffer
// is full the entry is logged instead of persisted.
func (s *Sink) Record(action, entityType string, entityID uuid.UUID, actorID string, details map[string]interface{}) {
	e := Entry{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Details:    details,
		RecordedAt: time.Now().UTC(),
	}
	select {
	case s.ch <- e:
	default:
		s.logger.Warn().
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID.String()).
			Str("actor_id", actorID).
			Msg("audit buffer full, entry dropped")
	}
}

// Start consumes the buffer until ctx is cancelled, then drains what is
// left and closes.
func (s *Sink) Start(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case e := <-s.ch:
			s.persist(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.ch:
					s.persist(e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until the worker started by Start has finished draining.
func (s *Sink) Wait() { <-s.done }

func (s *Sink) persist(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Insert(ctx, &e); err != nil {
		s.logger.Error().Err(err).
			Str("action", e.Action).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID.String()).
			Msg("failed to persist audit entry")
	}
}

// Nop is a Recorder that discards everything; used in tests and in
// commands that do not audit.
type Nop struct{}

func (Nop) Record(string, string, uuid.UUID, string, map[string]interface{}) {}
