package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewRepoPG(pool *pgxpool.Pool, logger zerolog.Logger) *RepoPG {
	return &RepoPG{pool: pool, logger: logger}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const auditCols = `id, at, category, event_id, responder_id, outcome, detail`

// Append writes the entry. An audit write failure is logged, never
// propagated: it must not fail the operation being audited.
func (r *RepoPG) Append(ctx context.Context, e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`INSERT INTO audit_entry (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, auditCols),
		e.ID, e.At, e.Category, e.EventID, e.ResponderID, e.Outcome, e.Detail)
	if err != nil {
		r.logger.Error().Err(err).Str("category", string(e.Category)).Msg("audit append failed")
	}
}

func (r *RepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where := ""
	args := []interface{}{}
	idx := 1

	if f.Category != "" {
		where = fmt.Sprintf(" WHERE category = $%d", idx)
		args = append(args, f.Category)
		idx++
	}
	if f.EventID != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE event_id = $%d", idx)
		} else {
			where += fmt.Sprintf(" AND event_id = $%d", idx)
		}
		args = append(args, *f.EventID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM audit_entry"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_entry%s ORDER BY at DESC LIMIT $%d OFFSET $%d",
		auditCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Category, &e.EventID, &e.ResponderID, &e.Outcome, &e.Detail); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
