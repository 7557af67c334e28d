package audit

import "context"

// Sink is the append-only write half, the capability handed to the
// engine and dispatcher. Appends must never fail the operation being
// audited; implementations log and swallow their own errors.
type Sink interface {
	Append(ctx context.Context, e *Entry)
}

// Repository adds the query surface consumed by compliance reporting.
type Repository interface {
	Sink
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
