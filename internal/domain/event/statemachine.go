package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// transitions is the fixed table of legal state changes. Anything not in
// the table fails with ErrInvalidTransition.
var transitions = map[State]map[Action]State{
	StateOpen: {
		ActionAcknowledge: StateAcknowledged,
		ActionResolve:     StateResolved, // guarded: CATASTROPHIC only
		ActionCancel:      StateCancelled,
	},
	StateAcknowledged: {
		ActionStartResponse: StateResponding,
		ActionResolve:       StateResolved,
		ActionCancel:        StateCancelled,
	},
	StateResponding: {
		ActionContain: StateContained,
		ActionResolve: StateResolved,
		ActionCancel:  StateCancelled,
	},
	StateContained: {
		ActionResolve: StateResolved,
		ActionCancel:  StateCancelled,
	},
	StateResolved: {
		ActionClose: StateClosed,
	},
	StateClosed:    {},
	StateCancelled: {},
}

// noop reports whether the requested action is an idempotent repeat:
// acknowledging an event that has already been acknowledged, or resolving
// one that is already resolved. Repeats succeed without a history entry.
func noop(state State, action Action) bool {
	switch action {
	case ActionAcknowledge:
		return state == StateAcknowledged || state == StateResponding || state == StateContained
	case ActionResolve:
		return state == StateResolved
	case ActionCancel:
		return state == StateCancelled
	}
	return false
}

// Apply runs one action through the state machine, mutating the event and
// appending a history entry. A nil entry with a nil error is an idempotent
// no-op. The caller is responsible for serializing calls per event and for
// persisting the state write and history append atomically.
func Apply(e *Event, action Action, actor, note string, now time.Time) (*TransitionEntry, error) {
	if noop(e.State, action) {
		return nil, nil
	}

	next, ok := transitions[e.State][action]
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, e.State)
	}

	// Resolving an un-acknowledged event is only allowed for CATASTROPHIC
	// severity (emergency self-contained before any staff responded).
	if action == ActionResolve && e.State == StateOpen && e.Severity != SeverityCatastrophic {
		return nil, fmt.Errorf("%w: cannot resolve an unacknowledged %s event", ErrPreconditionFailed, e.Severity)
	}

	entry := &TransitionEntry{
		ID:              uuid.New(),
		EventID:         e.ID,
		FromState:       e.State,
		ToState:         next,
		Action:          action,
		Actor:           actor,
		Note:            note,
		EscalationLevel: e.EscalationLevel,
		At:              now,
	}
	e.State = next
	e.UpdatedAt = now
	e.History = append(e.History, *entry)
	return entry, nil
}
