package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category groups audit entries by the part of the engine that wrote them.
type Category string

const (
	CategoryTransition Category = "transition" // state machine changes
	CategoryDispatch   Category = "dispatch"   // notification attempts
	CategoryRouting    Category = "routing"    // responder selection
	CategoryTimer      Category = "timer"      // escalation deadlines
	CategoryRule       Category = "rule"       // periodic rule scans
)

// Entry is one append-only audit record. The trail must reflect reality
// even when the engine self-healed, so recovered failures are written
// here too.
type Entry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	At          time.Time  `db:"at" json:"at"`
	Category    Category   `db:"category" json:"category"`
	EventID     *uuid.UUID `db:"event_id" json:"event_id,omitempty"`
	ResponderID *uuid.UUID `db:"responder_id" json:"responder_id,omitempty"`
	Outcome     string     `db:"outcome" json:"outcome"`
	Detail      string     `db:"detail" json:"detail,omitempty"`
}

// Filter narrows audit queries.
type Filter struct {
	Category Category
	EventID  *uuid.UUID
}
