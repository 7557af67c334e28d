package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists the append-only event log. Implementations must make
// each (event write, history append) pair atomic.
type Repository interface {
	// Insert stores a newly created event together with its initial
	// history entry.
	Insert(ctx context.Context, e *Event, entry *TransitionEntry) error
	// ApplyTransition stores the event's updated state, severity,
	// escalation level and assignments together with the history entry
	// describing the change.
	ApplyTransition(ctx context.Context, e *Event, entry *TransitionEntry) error
	// UpdateAssignments stores the current responder assignment set.
	UpdateAssignments(ctx context.Context, id uuid.UUID, responderIDs []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	History(ctx context.Context, id uuid.UUID) ([]*TransitionEntry, error)
	// ListOpen returns every non-terminal event, used to rebuild the
	// in-memory index after a restart.
	ListOpen(ctx context.Context) ([]*Event, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error)
	// CountSimilar counts events of the same kind for a subject since the
	// given time, regardless of state. Used by pattern rule scans.
	CountSimilar(ctx context.Context, kind Kind, subjectID uuid.UUID, since time.Time) (int, error)
}
