package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callback fires when an event's acknowledgement deadline elapses. level
// is the escalation level that timed out, not the level to move to.
type Callback func(eventID uuid.UUID, level int)

type entry struct {
	eventID  uuid.UUID
	level    int
	deadline time.Time
	seq      uint64
}

// deadlineHeap orders entries by deadline, earliest first.
type deadlineHeap []*entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler tracks at most one pending acknowledgement deadline per
// event on a shared min-heap, with a single goroutine waiting on the
// earliest one. Stale heap entries are invalidated by sequence number:
// Arm and Disarm both bump the event's sequence, so an entry popped with
// an old sequence is dropped instead of fired. A fire racing a disarm is
// therefore a no-op, never an error.
type Scheduler struct {
	logger   zerolog.Logger
	callback Callback

	mu   sync.Mutex
	heap deadlineHeap
	seq  map[uuid.UUID]uint64
	wake chan struct{}
}

func New(logger zerolog.Logger, cb Callback) *Scheduler {
	return &Scheduler{
		logger:   logger,
		callback: cb,
		seq:      make(map[uuid.UUID]uint64),
		wake:     make(chan struct{}, 1),
	}
}

// Arm schedules the deadline for an event at the given level, replacing
// any previously armed deadline for that event.
func (s *Scheduler) Arm(eventID uuid.UUID, level int, deadline time.Time) {
	s.mu.Lock()
	s.seq[eventID]++
	heap.Push(&s.heap, &entry{eventID: eventID, level: level, deadline: deadline, seq: s.seq[eventID]})
	s.mu.Unlock()
	s.kick()
}

// Disarm cancels the pending deadline for an event. Safe to call when
// nothing is armed.
func (s *Scheduler) Disarm(eventID uuid.UUID) {
	s.mu.Lock()
	if _, ok := s.seq[eventID]; ok {
		s.seq[eventID]++
	}
	s.mu.Unlock()
	s.kick()
}

// Forget drops all bookkeeping for an event once it reaches a terminal
// state.
func (s *Scheduler) Forget(eventID uuid.UUID) {
	s.mu.Lock()
	delete(s.seq, eventID)
	s.mu.Unlock()
	s.kick()
}

// Armed reports whether the event has a live pending deadline.
func (s *Scheduler) Armed(eventID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.seq[eventID]
	if !ok {
		return false
	}
	for _, e := range s.heap {
		if e.eventID == eventID && e.seq == cur {
			return true
		}
	}
	return false
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the timer loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := time.Now()
		due, next := s.collect(now)
		for _, e := range due {
			s.logger.Debug().
				Str("event", e.eventID.String()).
				Int("level", e.level).
				Msg("acknowledgement deadline elapsed")
			s.callback(e.eventID, e.level)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next.IsZero() {
			timer.Reset(time.Hour)
		} else {
			timer.Reset(time.Until(next))
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// collect pops every due live entry and returns them together with the
// deadline of the next live entry, if any. Stale entries are discarded
// as they surface.
func (s *Scheduler) collect(now time.Time) (due []*entry, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.heap.Len() > 0 {
		e := s.heap[0]
		if cur, ok := s.seq[e.eventID]; !ok || e.seq != cur {
			heap.Pop(&s.heap)
			continue
		}
		if e.deadline.After(now) {
			next = e.deadline
			return
		}
		heap.Pop(&s.heap)
		// Fired entries stop being live so a late Disarm stays a no-op.
		s.seq[e.eventID]++
		due = append(due, e)
	}
	return
}
