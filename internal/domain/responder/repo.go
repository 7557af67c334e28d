package responder

import (
	"context"

	"github.com/google/uuid"
)

// RosterRepository persists the on-call roster. Live workload is not
// persisted: it is rebuilt from zero when a shift (or the process)
// starts.
type RosterRepository interface {
	Upsert(ctx context.Context, r *Responder) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Responder, error)
}
