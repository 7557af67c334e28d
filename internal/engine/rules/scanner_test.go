package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/audit"
	"github.com/carealert/carealert/internal/domain/event"
)

// fakeRegistry tracks open events and per-subject history counts.
type fakeRegistry struct {
	mu      sync.Mutex
	open    []*event.Event
	similar map[uuid.UUID]int // subject -> missed dose count
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{similar: make(map[uuid.UUID]int)}
}

func (f *fakeRegistry) ListOpen(_ context.Context, filter event.Filter) []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*event.Event
	for _, e := range f.open {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeRegistry) CountSimilar(_ context.Context, _ event.Kind, subjectID uuid.UUID, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.similar[subjectID], nil
}

// fakeReporter records filed events and mirrors them into the registry's
// open set, the way the real engine does.
type fakeReporter struct {
	mu       sync.Mutex
	registry *fakeRegistry
	filed    []event.ReportInput
}

func (f *fakeReporter) Report(_ context.Context, in event.ReportInput) (*event.Event, error) {
	f.mu.Lock()
	f.filed = append(f.filed, in)
	f.mu.Unlock()

	ev := &event.Event{
		ID:        uuid.New(),
		Kind:      in.Kind,
		Severity:  in.Severity,
		State:     event.StateOpen,
		SubjectID: in.SubjectID,
	}
	f.registry.mu.Lock()
	f.registry.open = append(f.registry.open, ev)
	if in.Kind == event.KindMissedDose && in.SubjectID != nil {
		f.registry.similar[*in.SubjectID]++
	}
	f.registry.mu.Unlock()
	return ev, nil
}

func (f *fakeReporter) kinds() []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Kind, len(f.filed))
	for i, in := range f.filed {
		out[i] = in.Kind
	}
	return out
}

type fakeMeds struct {
	doses        []MissedDose
	interactions []Interaction
}

func (f *fakeMeds) MissedDoses(context.Context, time.Time) ([]MissedDose, error) {
	return f.doses, nil
}
func (f *fakeMeds) Interactions(context.Context) ([]Interaction, error) {
	return f.interactions, nil
}

type fakeConsents struct{ consents []ExpiringConsent }

func (f *fakeConsents) ExpiringConsents(context.Context, time.Duration) ([]ExpiringConsent, error) {
	return f.consents, nil
}

func newTestScanner(reg *fakeRegistry, rep *fakeReporter, meds MedicationSource, consents ConsentSource) *Scanner {
	return NewScanner(reg, rep, meds, consents, audit.NewMemoryRepo(), zerolog.Nop(), time.Minute)
}

func TestRunOnce_FilesMissedDose(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	meds := &fakeMeds{doses: []MissedDose{{
		SubjectID: subject, Medication: "metformin", DueAt: time.Now(), Location: "room 2",
	}}}
	s := newTestScanner(reg, rep, meds, nil)

	s.RunOnce(context.Background())

	kinds := rep.kinds()
	if len(kinds) != 1 || kinds[0] != event.KindMissedDose {
		t.Fatalf("filed %v, want one missed_dose", kinds)
	}
	if rep.filed[0].Severity != event.SeverityLow {
		t.Fatalf("severity = %s, want LOW", rep.filed[0].Severity)
	}
}

func TestRunOnce_OpenEventSuppressesRefiling(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	meds := &fakeMeds{doses: []MissedDose{{SubjectID: subject, Medication: "metformin", DueAt: time.Now()}}}
	s := newTestScanner(reg, rep, meds, nil)

	s.RunOnce(context.Background())
	s.RunOnce(context.Background()) // same dose still unresolved

	if n := len(rep.kinds()); n != 1 {
		t.Fatalf("filed %d events across two scans, want 1 while the first is open", n)
	}
}

func TestRunOnce_InteractionUsesSourceSeverity(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	meds := &fakeMeds{interactions: []Interaction{
		{SubjectID: subject, DrugA: "warfarin", DrugB: "aspirin", Severity: event.SeverityCritical},
	}}
	s := newTestScanner(reg, rep, meds, nil)

	s.RunOnce(context.Background())

	if len(rep.filed) != 1 || rep.filed[0].Kind != event.KindDrugInteraction {
		t.Fatalf("filed %v", rep.kinds())
	}
	if rep.filed[0].Severity != event.SeverityCritical {
		t.Fatalf("severity = %s, want the source's CRITICAL", rep.filed[0].Severity)
	}
}

func TestRunOnce_ConsentExpiry(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	consents := &fakeConsents{consents: []ExpiringConsent{
		{SubjectID: subject, Scope: "data sharing", ExpiresAt: time.Now().Add(10 * 24 * time.Hour)},
	}}
	s := newTestScanner(reg, rep, nil, consents)

	s.RunOnce(context.Background())

	if len(rep.filed) != 1 || rep.filed[0].Kind != event.KindConsentExpiring {
		t.Fatalf("filed %v, want one consent_expiring", rep.kinds())
	}
}

// Three missed doses inside the window raise one behavioral pattern
// event for the subject, and only one.
func TestPattern_ThreeMissedDosesRaiseBehavioral(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	reg.similar[subject] = 2 // two prior missed doses on record

	meds := &fakeMeds{doses: []MissedDose{{SubjectID: subject, Medication: "metformin", DueAt: time.Now()}}}
	s := newTestScanner(reg, rep, meds, nil)

	s.RunOnce(context.Background())

	var behavioral int
	for _, k := range rep.kinds() {
		if k == event.KindBehavioral {
			behavioral++
		}
	}
	if behavioral != 1 {
		t.Fatalf("filed %d behavioral events, want 1 at the third missed dose", behavioral)
	}

	// The next scan must not file a second pattern event for the same
	// subject inside the window.
	reg.mu.Lock()
	reg.open = nil // missed dose resolved meanwhile
	reg.mu.Unlock()
	s.RunOnce(context.Background())

	behavioral = 0
	for _, k := range rep.kinds() {
		if k == event.KindBehavioral {
			behavioral++
		}
	}
	if behavioral != 1 {
		t.Fatalf("pattern event filed again inside the window: %d", behavioral)
	}
}

func TestPattern_BelowThresholdStaysQuiet(t *testing.T) {
	reg := newFakeRegistry()
	rep := &fakeReporter{registry: reg}
	subject := uuid.New()
	meds := &fakeMeds{doses: []MissedDose{{SubjectID: subject, Medication: "metformin", DueAt: time.Now()}}}
	s := newTestScanner(reg, rep, meds, nil)

	s.RunOnce(context.Background())

	for _, k := range rep.kinds() {
		if k == event.KindBehavioral {
			t.Fatal("behavioral event filed below the pattern threshold")
		}
	}
}
