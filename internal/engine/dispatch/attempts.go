package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of a single notification attempt.
type Outcome string

const (
	OutcomeSent     Outcome = "SENT"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
	OutcomeAcked    Outcome = "ACKED"
)

// Attempt is one append-only notification record. ACKED entries carry no
// channel: they mark the responder's acknowledgement, closing the
// response-time window opened by the first SENT entry.
type Attempt struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EventID     uuid.UUID `db:"event_id" json:"event_id"`
	ResponderID uuid.UUID `db:"responder_id" json:"responder_id"`
	Channel     Channel   `db:"channel" json:"channel,omitempty"`
	Attempt     int       `db:"attempt" json:"attempt"`
	At          time.Time `db:"at" json:"at"`
	Outcome     Outcome   `db:"outcome" json:"outcome"`
	Error       string    `db:"error" json:"error,omitempty"`
}

// AttemptStore persists the notification attempt log.
type AttemptStore interface {
	Record(ctx context.Context, a *Attempt) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*Attempt, error)
}

// MemoryAttemptStore is a thread-safe in-memory AttemptStore.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []*Attempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

func (m *MemoryAttemptStore) Record(_ context.Context, a *Attempt) error {
	cp := *a
	m.mu.Lock()
	m.attempts = append(m.attempts, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAttemptStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Attempt
	for _, a := range m.attempts {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ResponseTime computes the duration between the first successful send
// to a responder and that responder's acknowledgement. ok is false when
// either end of the window is missing.
func ResponseTime(attempts []*Attempt, responderID uuid.UUID) (time.Duration, bool) {
	var sentAt, ackedAt time.Time
	for _, a := range attempts {
		if a.ResponderID != responderID {
			continue
		}
		switch a.Outcome {
		case OutcomeSent:
			if sentAt.IsZero() || a.At.Before(sentAt) {
				sentAt = a.At
			}
		case OutcomeAcked:
			if ackedAt.IsZero() || a.At.Before(ackedAt) {
				ackedAt = a.At
			}
		}
	}
	if sentAt.IsZero() || ackedAt.IsZero() {
		return 0, false
	}
	return ackedAt.Sub(sentAt), true
}
