package responder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/event"
)

// Directory tracks on-call responders and their live workload. Load
// counters are the one piece of mutable shared state touched by
// concurrent routing operations, so reserve/release are check-then-act
// under a per-responder lock; nothing else writes currentLoad.
type Directory struct {
	repo   RosterRepository // may be nil (tests, ephemeral rosters)
	logger zerolog.Logger

	mu     sync.RWMutex
	states map[uuid.UUID]*responderState
}

type responderState struct {
	mu       sync.Mutex
	resp     Responder
	load     int
	assigned map[uuid.UUID]struct{}
}

func NewDirectory(repo RosterRepository, logger zerolog.Logger) *Directory {
	return &Directory{
		repo:   repo,
		logger: logger,
		states: make(map[uuid.UUID]*responderState),
	}
}

// LoadRoster populates the directory from the persisted roster. Load
// counters start at zero: workload has no meaning outside a live shift.
func (d *Directory) LoadRoster(ctx context.Context) error {
	if d.repo == nil {
		return nil
	}
	roster, err := d.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range roster {
		d.put(*r)
	}
	d.logger.Info().Int("count", len(roster)).Msg("loaded responder roster")
	return nil
}

func (d *Directory) put(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[r.ID]; ok {
		st.mu.Lock()
		st.resp = r
		st.mu.Unlock()
		return
	}
	d.states[r.ID] = &responderState{
		resp:     r,
		assigned: make(map[uuid.UUID]struct{}),
	}
}

// Upsert adds a responder to the directory (shift start) or updates an
// existing one, persisting the roster when a repository is configured.
func (d *Directory) Upsert(ctx context.Context, r Responder) error {
	if r.MaxConcurrentEvents <= 0 {
		r.MaxConcurrentEvents = 1
	}
	if r.Status == "" {
		r.Status = StatusAvailable
	}
	if d.repo != nil {
		if err := d.repo.Upsert(ctx, &r); err != nil {
			return err
		}
	}
	d.put(r)
	return nil
}

// Remove drops a responder at shift end. Any remaining assignments are
// discarded with the state.
func (d *Directory) Remove(ctx context.Context, id uuid.UUID) error {
	if d.repo != nil {
		if err := d.repo.Delete(ctx, id); err != nil {
			return err
		}
	}
	d.mu.Lock()
	delete(d.states, id)
	d.mu.Unlock()
	return nil
}

// SetStatus updates a responder's availability status.
func (d *Directory) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	d.mu.RLock()
	st, ok := d.states[id]
	d.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	st.resp.Status = status
	r := st.resp.clone()
	st.mu.Unlock()

	if d.repo != nil {
		return d.repo.Upsert(ctx, &r)
	}
	return nil
}

// Get returns a copy of the responder.
func (d *Directory) Get(id uuid.UUID) (Responder, error) {
	d.mu.RLock()
	st, ok := d.states[id]
	d.mu.RUnlock()
	if !ok {
		return Responder{}, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.resp.clone(), nil
}

// List returns a copy of every responder in the directory.
func (d *Directory) List() []Responder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Responder, 0, len(d.states))
	for _, st := range d.states {
		st.mu.Lock()
		out = append(out, st.resp.clone())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load returns the responder's current workload.
func (d *Directory) Load(id uuid.UUID) (int, error) {
	d.mu.RLock()
	st, ok := d.states[id]
	d.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.load, nil
}

type candidate struct {
	resp Responder
	load int
}

// FindEligible returns available on-shift responders able to handle the
// kind, ordered by ascending load, then role priority, then matching
// unit. Matching prefers the kind's exact capability, falling back to
// general_care. A CRITICAL or worse event with no capability match at
// all gets the full available list: a life-safety event is never
// silently dropped for lack of a matching skill tag.
func (d *Directory) FindEligible(kind event.Kind, severity event.Severity, location string, now time.Time) []Responder {
	available := d.snapshotAvailable(now)

	tag := CapabilityFor(kind)
	exact := filterByCapability(available, tag)
	if len(exact) == 0 {
		exact = filterByCapability(available, GeneralCare)
	}
	if len(exact) == 0 && severity.AtLeast(event.SeverityCritical) {
		exact = available
	}

	sort.SliceStable(exact, func(i, j int) bool {
		if exact[i].load != exact[j].load {
			return exact[i].load < exact[j].load
		}
		pi, pj := exact[i].resp.Role.priority(), exact[j].resp.Role.priority()
		if pi != pj {
			return pi < pj
		}
		return unitRank(exact[i].resp, location) < unitRank(exact[j].resp, location)
	})

	out := make([]Responder, len(exact))
	for i, c := range exact {
		out[i] = c.resp
	}
	return out
}

func (d *Directory) snapshotAvailable(now time.Time) []candidate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []candidate
	for _, st := range d.states {
		st.mu.Lock()
		if st.resp.Status == StatusAvailable && st.resp.OnShift(now) {
			out = append(out, candidate{resp: st.resp.clone(), load: st.load})
		}
		st.mu.Unlock()
	}
	return out
}

func filterByCapability(cands []candidate, tag string) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.resp.HasCapability(tag) {
			out = append(out, c)
		}
	}
	return out
}

func unitRank(r Responder, location string) int {
	if location != "" && r.Unit == location {
		return 0
	}
	return 1
}

// Reserve atomically takes one workload slot for the event. It returns
// false when the responder is already at capacity, in which case the
// caller must move on to the next candidate. Reserving the same
// (responder, event) pair twice holds a single slot.
func (d *Directory) Reserve(responderID, eventID uuid.UUID) bool {
	d.mu.RLock()
	st, ok := d.states[responderID]
	d.mu.RUnlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.assigned[eventID]; dup {
		return true
	}
	if st.load >= st.resp.MaxConcurrentEvents {
		return false
	}
	st.load++
	st.assigned[eventID] = struct{}{}
	return true
}

// Release returns the event's slot. Idempotent per (responder, event):
// releasing twice has no further effect.
func (d *Directory) Release(responderID, eventID uuid.UUID) {
	d.mu.RLock()
	st, ok := d.states[responderID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, held := st.assigned[eventID]; !held {
		return
	}
	delete(st.assigned, eventID)
	st.load--
}
