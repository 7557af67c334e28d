package responder

import (
	"context"
	"encoding/json"
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

type RosterRepoPG struct {
	pool *pgxpool.Pool
}

func NewRosterRepoPG(pool *pgxpool.Pool) *RosterRepoPG {
	return &RosterRepoPG{pool: pool}
}

func (r *RosterRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rosterCols = `id, name, role, capabilities, unit, shift_start, shift_end,
	contact_methods, max_concurrent_events, status`

func (r *RosterRepoPG) Upsert(ctx context.Context, resp *Responder) error {
	contacts, err := json.Marshal(resp.ContactMethods)
	if err != nil {
		return fmt.Errorf("marshal contact methods: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, fmt.Sprintf(`INSERT INTO responder (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			capabilities = EXCLUDED.capabilities,
			unit = EXCLUDED.unit,
			shift_start = EXCLUDED.shift_start,
			shift_end = EXCLUDED.shift_end,
			contact_methods = EXCLUDED.contact_methods,
			max_concurrent_events = EXCLUDED.max_concurrent_events,
			status = EXCLUDED.status`, rosterCols),
		resp.ID, resp.Name, resp.Role, resp.Capabilities, resp.Unit,
		resp.ShiftStart, resp.ShiftEnd, contacts, resp.MaxConcurrentEvents, resp.Status)
	return err
}

func (r *RosterRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, "DELETE FROM responder WHERE id = $1", id)
	return err
}

func (r *RosterRepoPG) List(ctx context.Context) ([]*Responder, error) {
	q := fmt.Sprintf("SELECT %s FROM responder ORDER BY name", rosterCols)
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Responder
	for rows.Next() {
		var resp Responder
		var contacts []byte
		if err := rows.Scan(&resp.ID, &resp.Name, &resp.Role, &resp.Capabilities, &resp.Unit,
			&resp.ShiftStart, &resp.ShiftEnd, &contacts, &resp.MaxConcurrentEvents, &resp.Status); err != nil {
			return nil, err
		}
		if len(contacts) > 0 {
			if err := json.Unmarshal(contacts, &resp.ContactMethods); err != nil {
				return nil, fmt.Errorf("unmarshal contact methods: %w", err)
			}
		}
		out = append(out, &resp)
	}
	return out, rows.Err()
}
