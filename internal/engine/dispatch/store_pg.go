package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carealert/carealert/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type AttemptStorePG struct {
	pool *pgxpool.Pool
}

func NewAttemptStorePG(pool *pgxpool.Pool) *AttemptStorePG {
	return &AttemptStorePG{pool: pool}
}

func (s *AttemptStorePG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const attemptCols = `id, event_id, responder_id, channel, attempt, at, outcome, error`

func (s *AttemptStorePG) Record(ctx context.Context, a *Attempt) error {
	_, err := s.conn(ctx).Exec(ctx, fmt.Sprintf(`INSERT INTO notification_attempt (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, attemptCols),
		a.ID, a.EventID, a.ResponderID, a.Channel, a.Attempt, a.At, a.Outcome, a.Error)
	return err
}

func (s *AttemptStorePG) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*Attempt, error) {
	q := fmt.Sprintf("SELECT %s FROM notification_attempt WHERE event_id = $1 ORDER BY at, id", attemptCols)
	rows, err := s.conn(ctx).Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.EventID, &a.ResponderID, &a.Channel, &a.Attempt,
			&a.At, &a.Outcome, &a.Error); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
