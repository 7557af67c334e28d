package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what happened. Every kind must have an escalation policy;
// the policy table is checked for exhaustiveness against Kinds.
type Kind string

const (
	KindMedicalEmergency Kind = "medical_emergency"
	KindFire             Kind = "fire"
	KindSecurity         Kind = "security"
	KindBehavioral       Kind = "behavioral"
	KindFall             Kind = "fall"
	KindMissedDose       Kind = "missed_dose"
	KindDrugInteraction  Kind = "drug_interaction"
	KindConsentExpiring  Kind = "consent_expiring"
)

// Kinds lists every event kind the engine accepts.
var Kinds = []Kind{
	KindMedicalEmergency,
	KindFire,
	KindSecurity,
	KindBehavioral,
	KindFall,
	KindMissedDose,
	KindDrugInteraction,
	KindConsentExpiring,
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Severity is an ordered scale. Promotion moves one step up, capped at
// CATASTROPHIC.
type Severity string

const (
	SeverityLow          Severity = "LOW"
	SeverityMedium       Severity = "MEDIUM"
	SeverityHigh         Severity = "HIGH"
	SeverityCritical     Severity = "CRITICAL"
	SeverityCatastrophic Severity = "CATASTROPHIC"
)

var severityOrder = []Severity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
	SeverityCatastrophic,
}

func ParseSeverity(s string) (Severity, error) {
	for _, sev := range severityOrder {
		if string(sev) == s {
			return sev, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank returns the position of s in the severity order, or -1 for an
// unknown value.
func (s Severity) Rank() int {
	for i, sev := range severityOrder {
		if sev == s {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is at or above o.
func (s Severity) AtLeast(o Severity) bool {
	return s.Rank() >= o.Rank()
}

// Promote returns the next severity up, capped at CATASTROPHIC.
func (s Severity) Promote() Severity {
	r := s.Rank()
	if r < 0 || r >= len(severityOrder)-1 {
		return SeverityCatastrophic
	}
	return severityOrder[r+1]
}

// State is the event lifecycle state. An event holds exactly one state at
// a time; escalation level is tracked separately and is orthogonal to it.
type State string

const (
	StateOpen         State = "OPEN"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateResponding   State = "RESPONDING"
	StateContained    State = "CONTAINED"
	StateResolved     State = "RESOLVED"
	StateClosed       State = "CLOSED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether the state freezes the event. A terminal event
// is never escalated, re-routed, or transitioned again, with the single
// exception of RESOLVED -> CLOSED.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateClosed, StateCancelled:
		return true
	}
	return false
}

// AwaitingAck reports whether the escalation clock is still running: only
// an un-acknowledged OPEN event escalates on deadline.
func (s State) AwaitingAck() bool {
	return s == StateOpen
}

// Action is a requested state change.
type Action string

const (
	ActionReport        Action = "report" // creation, history only
	ActionAcknowledge   Action = "acknowledge"
	ActionStartResponse Action = "start_response"
	ActionContain       Action = "contain"
	ActionResolve       Action = "resolve"
	ActionClose         Action = "close"
	ActionCancel        Action = "cancel"
	ActionEscalate      Action = "escalate" // scheduler-driven, history only
)

// Event is a single time-sensitive occurrence requiring a staffed
// response. It generalizes incidents (nurse call, fire) and alerts
// (missed dose, drug interaction).
type Event struct {
	ID                   uuid.UUID         `db:"id" json:"id"`
	Kind                 Kind              `db:"kind" json:"kind"`
	Severity             Severity          `db:"severity" json:"severity"`
	State                State             `db:"state" json:"state"`
	SubjectID            *uuid.UUID        `db:"subject_id" json:"subject_id,omitempty"`
	Location             string            `db:"location" json:"location"`
	Description          string            `db:"description" json:"description"`
	DetectedAt           time.Time         `db:"detected_at" json:"detected_at"`
	EscalationLevel      int               `db:"escalation_level" json:"escalation_level"`
	AssignedResponderIDs []uuid.UUID       `db:"assigned_responder_ids" json:"assigned_responder_ids"`
	History              []TransitionEntry `db:"-" json:"history,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// Assigned reports whether the responder is currently assigned.
func (e *Event) Assigned(responderID uuid.UUID) bool {
	for _, id := range e.AssignedResponderIDs {
		if id == responderID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The registry hands out copies so callers can
// read them without holding the event lock.
func (e *Event) Clone() *Event {
	cp := *e
	cp.AssignedResponderIDs = append([]uuid.UUID(nil), e.AssignedResponderIDs...)
	cp.History = append([]TransitionEntry(nil), e.History...)
	return &cp
}

// TransitionEntry is one immutable record in an event's history.
type TransitionEntry struct {
	ID              uuid.UUID `db:"id" json:"id"`
	EventID         uuid.UUID `db:"event_id" json:"event_id"`
	FromState       State     `db:"from_state" json:"from_state"`
	ToState         State     `db:"to_state" json:"to_state"`
	Action          Action    `db:"action" json:"action"`
	Actor           string    `db:"actor" json:"actor"`
	Note            string    `db:"note" json:"note,omitempty"`
	EscalationLevel int       `db:"escalation_level" json:"escalation_level"`
	At              time.Time `db:"at" json:"at"`
}

// Filter narrows event list queries.
type Filter struct {
	State    State
	Kind     Kind
	Severity Severity
	Subject  *uuid.UUID
}

// Matches reports whether the event satisfies every set filter field.
func (f Filter) Matches(e *Event) bool {
	if f.State != "" && e.State != f.State {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Subject != nil && (e.SubjectID == nil || *e.SubjectID != *f.Subject) {
		return false
	}
	return true
}
