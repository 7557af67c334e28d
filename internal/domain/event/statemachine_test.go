package event

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestEvent(severity Severity) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:              uuid.New(),
		Kind:            KindMedicalEmergency,
		Severity:        severity,
		State:           StateOpen,
		EscalationLevel: 1,
		DetectedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestApply_HappyPath(t *testing.T) {
	e := newTestEvent(SeverityHigh)
	steps := []struct {
		action Action
		want   State
	}{
		{ActionAcknowledge, StateAcknowledged},
		{ActionStartResponse, StateResponding},
		{ActionContain, StateContained},
		{ActionResolve, StateResolved},
		{ActionClose, StateClosed},
	}
	for _, s := range steps {
		entry, err := Apply(e, s.action, "nurse-1", "", time.Now().UTC())
		if err != nil {
			t.Fatalf("%s: unexpected error %v", s.action, err)
		}
		if entry == nil {
			t.Fatalf("%s: expected a history entry", s.action)
		}
		if e.State != s.want {
			t.Fatalf("%s: state = %s, want %s", s.action, e.State, s.want)
		}
	}
	if len(e.History) != len(steps) {
		t.Fatalf("history length = %d, want %d", len(e.History), len(steps))
	}
}

func TestApply_InvalidTransition(t *testing.T) {
	cases := []struct {
		state  State
		action Action
	}{
		{StateOpen, ActionStartResponse},
		{StateOpen, ActionContain},
		{StateOpen, ActionClose},
		{StateAcknowledged, ActionContain},
		{StateContained, ActionStartResponse},
		{StateClosed, ActionAcknowledge},
		{StateCancelled, ActionResolve},
	}
	for _, c := range cases {
		e := newTestEvent(SeverityHigh)
		e.State = c.state
		_, err := Apply(e, c.action, "x", "", time.Now().UTC())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s from %s: err = %v, want ErrInvalidTransition", c.action, c.state, err)
		}
		if e.State != c.state {
			t.Errorf("%s from %s: state mutated to %s", c.action, c.state, e.State)
		}
	}
}

func TestApply_IdempotentRepeats(t *testing.T) {
	cases := []struct {
		state  State
		action Action
	}{
		{StateAcknowledged, ActionAcknowledge},
		{StateResponding, ActionAcknowledge},
		{StateContained, ActionAcknowledge},
		{StateResolved, ActionResolve},
		{StateCancelled, ActionCancel},
	}
	for _, c := range cases {
		e := newTestEvent(SeverityHigh)
		e.State = c.state
		entry, err := Apply(e, c.action, "x", "", time.Now().UTC())
		if err != nil {
			t.Errorf("%s from %s: unexpected error %v", c.action, c.state, err)
		}
		if entry != nil {
			t.Errorf("%s from %s: repeat produced a history entry", c.action, c.state)
		}
		if e.State != c.state {
			t.Errorf("%s from %s: state changed to %s", c.action, c.state, e.State)
		}
	}
}

func TestApply_ResolveFromOpenRequiresCatastrophic(t *testing.T) {
	e := newTestEvent(SeverityHigh)
	_, err := Apply(e, ActionResolve, "x", "", time.Now().UTC())
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err = %v, want ErrPreconditionFailed", err)
	}
	if e.State != StateOpen {
		t.Fatalf("state = %s, want OPEN", e.State)
	}

	cat := newTestEvent(SeverityCatastrophic)
	entry, err := Apply(cat, ActionResolve, "x", "self-contained", time.Now().UTC())
	if err != nil {
		t.Fatalf("catastrophic resolve: %v", err)
	}
	if entry == nil || cat.State != StateResolved {
		t.Fatalf("catastrophic resolve did not transition, state = %s", cat.State)
	}
}

func TestApply_CancelFromAnyNonTerminal(t *testing.T) {
	for _, state := range []State{StateOpen, StateAcknowledged, StateResponding, StateContained} {
		e := newTestEvent(SeverityMedium)
		e.State = state
		if _, err := Apply(e, ActionCancel, "x", "false alarm", time.Now().UTC()); err != nil {
			t.Errorf("cancel from %s: %v", state, err)
		}
		if e.State != StateCancelled {
			t.Errorf("cancel from %s: state = %s", state, e.State)
		}
	}

	// RESOLVED and CLOSED are final; cancel must not reopen them.
	for _, state := range []State{StateResolved, StateClosed} {
		e := newTestEvent(SeverityMedium)
		e.State = state
		if _, err := Apply(e, ActionCancel, "x", "", time.Now().UTC()); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("cancel from %s: err = %v, want ErrInvalidTransition", state, err)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := map[State]bool{
		StateOpen: false, StateAcknowledged: false, StateResponding: false,
		StateContained: false, StateResolved: true, StateClosed: true, StateCancelled: true,
	}
	for state, want := range terminal {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestSeverityPromote(t *testing.T) {
	if got := SeverityLow.Promote(); got != SeverityMedium {
		t.Errorf("LOW.Promote() = %s", got)
	}
	if got := SeverityCatastrophic.Promote(); got != SeverityCatastrophic {
		t.Errorf("CATASTROPHIC.Promote() = %s, promotion must cap", got)
	}
}
