package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Listener is notified after a transition has been persisted. The engine
// uses it to disarm timers and release responders without this package
// importing the engine.
type Listener interface {
	OnTransition(ctx context.Context, e *Event, entry *TransitionEntry)
}

// Registry owns every event's lifecycle. All mutations go through the
// state machine under a per-event lock; transitions on different events
// proceed fully in parallel. The durable log lives in the repository; an
// in-memory index of open events is derived from it so a process restart
// does not drop open escalations.
type Registry struct {
	repo   Repository
	logger zerolog.Logger

	mu    sync.RWMutex
	index map[uuid.UUID]*Event // open (non-terminal) events only

	locks     sync.Map // uuid.UUID -> *sync.Mutex
	listeners []Listener
}

func NewRegistry(repo Repository, logger zerolog.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
		index:  make(map[uuid.UUID]*Event),
	}
}

// AddListener registers a transition listener. Not safe to call after
// the registry is in use.
func (r *Registry) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Recover rebuilds the open-event index from the durable log. Called once
// at startup, before the scheduler re-arms deadlines.
func (r *Registry) Recover(ctx context.Context) ([]*Event, error) {
	open, err := r.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover open events: %w", err)
	}
	r.mu.Lock()
	for _, e := range open {
		r.index[e.ID] = e
	}
	r.mu.Unlock()

	out := make([]*Event, 0, len(open))
	for _, e := range open {
		out = append(out, e.Clone())
	}
	r.logger.Info().Int("count", len(out)).Msg("recovered open events")
	return out, nil
}

func (r *Registry) lock(id uuid.UUID) *sync.Mutex {
	m, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// WithEventLock runs fn while holding the event's lock. The scheduler's
// fire path and the acknowledge path both go through this, so whichever
// runs first wins and the loser observes the new state.
func (r *Registry) WithEventLock(id uuid.UUID, fn func()) {
	m := r.lock(id)
	m.Lock()
	defer m.Unlock()
	fn()
}

// Create records a new OPEN event at escalation level 1 and returns it.
func (r *Registry) Create(ctx context.Context, in ReportInput) (*Event, error) {
	now := time.Now().UTC()
	detectedAt := in.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}
	actor := in.Actor
	if actor == "" {
		actor = "system"
	}
	e := &Event{
		ID:              uuid.New(),
		Kind:            in.Kind,
		Severity:        in.Severity,
		State:           StateOpen,
		SubjectID:       in.SubjectID,
		Location:        in.Location,
		Description:     in.Description,
		DetectedAt:      detectedAt,
		EscalationLevel: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry := &TransitionEntry{
		ID:              uuid.New(),
		EventID:         e.ID,
		FromState:       "",
		ToState:         StateOpen,
		Action:          ActionReport,
		Actor:           actor,
		Note:            in.Description,
		EscalationLevel: 1,
		At:              now,
	}
	e.History = append(e.History, *entry)

	if err := r.repo.Insert(ctx, e, entry); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	r.mu.Lock()
	r.index[e.ID] = e
	r.mu.Unlock()

	return e.Clone(), nil
}

// Transition applies one action to the event. Idempotent repeats return
// the unchanged event with no new history entry.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, action Action, actor, note string) (*Event, error) {
	m := r.lock(id)
	m.Lock()
	defer m.Unlock()

	e, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	prevUpdated := e.UpdatedAt
	entry, err := Apply(e, action, actor, note, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return e.Clone(), nil // idempotent repeat
	}

	if err := r.repo.ApplyTransition(ctx, e, entry); err != nil {
		// Roll the in-memory copy back so memory and log stay consistent.
		e.State = entry.FromState
		e.UpdatedAt = prevUpdated
		e.History = e.History[:len(e.History)-1]
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if e.State.Terminal() {
		r.mu.Lock()
		delete(r.index, e.ID)
		r.mu.Unlock()
	}

	cp := e.Clone()
	for _, l := range r.listeners {
		l.OnTransition(ctx, cp, entry)
	}
	return cp, nil
}

// Escalate bumps the escalation level (and optionally the severity) of an
// event that is still awaiting acknowledgement. It returns escalated=false
// without error when the event has been acknowledged, resolved or
// cancelled in the meantime: a timer that fires against such an event is
// a race, not a fault, and must be a no-op.
func (r *Registry) Escalate(ctx context.Context, id uuid.UUID, promoteSeverity bool) (*Event, bool, error) {
	m := r.lock(id)
	m.Lock()
	defer m.Unlock()

	e, err := r.get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !e.State.AwaitingAck() {
		r.logger.Debug().
			Str("event", id.String()).
			Str("state", string(e.State)).
			Msg("escalation fired against non-open event, ignoring")
		return e.Clone(), false, nil
	}

	now := time.Now().UTC()
	prevSeverity, prevUpdated := e.Severity, e.UpdatedAt
	e.EscalationLevel++
	if promoteSeverity {
		e.Severity = e.Severity.Promote()
	}
	e.UpdatedAt = now

	entry := &TransitionEntry{
		ID:              uuid.New(),
		EventID:         e.ID,
		FromState:       e.State,
		ToState:         e.State,
		Action:          ActionEscalate,
		Actor:           "scheduler",
		Note:            fmt.Sprintf("escalated to level %d", e.EscalationLevel),
		EscalationLevel: e.EscalationLevel,
		At:              now,
	}
	e.History = append(e.History, *entry)

	if err := r.repo.ApplyTransition(ctx, e, entry); err != nil {
		e.EscalationLevel--
		e.Severity = prevSeverity
		e.UpdatedAt = prevUpdated
		e.History = e.History[:len(e.History)-1]
		return nil, false, fmt.Errorf("persist escalation: %w", err)
	}
	return e.Clone(), true, nil
}

// SetAssignments replaces the event's responder assignment set. Owned by
// the router; nothing else writes it.
func (r *Registry) SetAssignments(ctx context.Context, id uuid.UUID, responderIDs []uuid.UUID) error {
	m := r.lock(id)
	m.Lock()
	defer m.Unlock()

	e, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.UpdateAssignments(ctx, id, responderIDs); err != nil {
		return fmt.Errorf("persist assignments: %w", err)
	}
	e.AssignedResponderIDs = append([]uuid.UUID(nil), responderIDs...)
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// get returns the live (index) event if open, falling back to the durable
// log for terminal events. Callers must hold the event lock.
func (r *Registry) get(ctx context.Context, id uuid.UUID) (*Event, error) {
	r.mu.RLock()
	e, ok := r.index[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}
	e, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns a copy of the event.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	m := r.lock(id)
	m.Lock()
	defer m.Unlock()
	e, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// History returns the event's transition log in order.
func (r *Registry) History(ctx context.Context, id uuid.UUID) ([]*TransitionEntry, error) {
	return r.repo.History(ctx, id)
}

// ListOpen returns copies of the open events matching the filter, oldest
// first. Index events are mutated under their per-event lock, so the
// match and clone happen under that lock too; r.mu only guards the map.
// The locks are taken after r.mu is released, never inside it, because
// mutators acquire them in the opposite order.
func (r *Registry) ListOpen(_ context.Context, f Filter) []*Event {
	r.mu.RLock()
	live := make([]*Event, 0, len(r.index))
	for _, e := range r.index {
		live = append(live, e)
	}
	r.mu.RUnlock()

	out := make([]*Event, 0, len(live))
	for _, e := range live {
		m := r.lock(e.ID)
		m.Lock()
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
		m.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// List queries the durable log, including terminal events.
func (r *Registry) List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	return r.repo.List(ctx, f, limit, offset)
}

// CountSimilar counts same-kind events for a subject since a point in
// time. Used by the pattern-recognition rule scan.
func (r *Registry) CountSimilar(ctx context.Context, kind Kind, subjectID uuid.UUID, since time.Time) (int, error) {
	return r.repo.CountSimilar(ctx, kind, subjectID, since)
}
