package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carealert/carealert/internal/platform/db"
)

// queryable is satisfied by both *pgxpool.Pool and the tenant-scoped
// *pgxpool.Conn placed in the request context.
type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eventCols = `id, kind, severity, state, subject_id, location, description,
	detected_at, escalation_level, assigned_responder_ids, created_at, updated_at`

const transitionCols = `id, event_id, from_state, to_state, action, actor, note,
	escalation_level, at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var assigned []string
	err := row.Scan(
		&e.ID, &e.Kind, &e.Severity, &e.State, &e.SubjectID, &e.Location, &e.Description,
		&e.DetectedAt, &e.EscalationLevel, &assigned, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, s := range assigned {
		id, perr := uuid.Parse(s)
		if perr != nil {
			return nil, fmt.Errorf("parse assigned responder id %q: %w", s, perr)
		}
		e.AssignedResponderIDs = append(e.AssignedResponderIDs, id)
	}
	return &e, nil
}

func assignedStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func insertTransition(ctx context.Context, tx pgx.Tx, entry *TransitionEntry) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO event_transition (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, transitionCols),
		entry.ID, entry.EventID, entry.FromState, entry.ToState, entry.Action,
		entry.Actor, entry.Note, entry.EscalationLevel, entry.At)
	return err
}

// Insert writes the event row and its initial history entry in one
// transaction.
func (r *RepoPG) Insert(ctx context.Context, e *Event, entry *TransitionEntry) error {
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO escalation_event (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, eventCols),
		e.ID, e.Kind, e.Severity, e.State, e.SubjectID, e.Location, e.Description,
		e.DetectedAt, e.EscalationLevel, assignedStrings(e.AssignedResponderIDs),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertTransition(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyTransition writes the updated event row and the history entry in
// one transaction, keeping state write and history append atomic.
func (r *RepoPG) ApplyTransition(ctx context.Context, e *Event, entry *TransitionEntry) error {
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE escalation_event
		SET state = $2, severity = $3, escalation_level = $4,
		    assigned_responder_ids = $5, updated_at = $6
		WHERE id = $1`,
		e.ID, e.State, e.Severity, e.EscalationLevel,
		assignedStrings(e.AssignedResponderIDs), e.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertTransition(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *RepoPG) UpdateAssignments(ctx context.Context, id uuid.UUID, responderIDs []uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE escalation_event
		SET assigned_responder_ids = $2, updated_at = NOW()
		WHERE id = $1`, id, assignedStrings(responderIDs))
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	q := fmt.Sprintf("SELECT %s FROM escalation_event WHERE id = $1", eventCols)
	return scanEvent(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) History(ctx context.Context, id uuid.UUID) ([]*TransitionEntry, error) {
	q := fmt.Sprintf("SELECT %s FROM event_transition WHERE event_id = $1 ORDER BY at, id", transitionCols)
	rows, err := r.conn(ctx).Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TransitionEntry
	for rows.Next() {
		var t TransitionEntry
		if err := rows.Scan(&t.ID, &t.EventID, &t.FromState, &t.ToState, &t.Action,
			&t.Actor, &t.Note, &t.EscalationLevel, &t.At); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *RepoPG) ListOpen(ctx context.Context) ([]*Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM escalation_event
		WHERE state NOT IN ('RESOLVED', 'CLOSED', 'CANCELLED')
		ORDER BY detected_at`, eventCols)
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *RepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.State != "" {
		where = append(where, fmt.Sprintf("state = $%d", idx))
		args = append(args, f.State)
		idx++
	}
	if f.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", idx))
		args = append(args, f.Kind)
		idx++
	}
	if f.Severity != "" {
		where = append(where, fmt.Sprintf("severity = $%d", idx))
		args = append(args, f.Severity)
		idx++
	}
	if f.Subject != nil {
		where = append(where, fmt.Sprintf("subject_id = $%d", idx))
		args = append(args, *f.Subject)
		idx++
	}

	clause := ""
	for i, w := range where {
		if i == 0 {
			clause = " WHERE " + w
		} else {
			clause += " AND " + w
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM escalation_event"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM escalation_event%s ORDER BY detected_at DESC LIMIT $%d OFFSET $%d",
		eventCols, clause, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *RepoPG) CountSimilar(ctx context.Context, kind Kind, subjectID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM escalation_event
		WHERE kind = $1 AND subject_id = $2 AND detected_at >= $3`,
		kind, subjectID, since).Scan(&n)
	return n, err
}
