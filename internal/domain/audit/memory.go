package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a thread-safe in-memory Repository, used in tests and as
// a fallback when the engine runs without a database.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (m *MemoryRepo) Append(_ context.Context, e *Entry) {
	cp := *e
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.At.IsZero() {
		cp.At = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries = append(m.entries, &cp)
	m.mu.Unlock()
}

func (m *MemoryRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Entry
	for _, e := range m.entries {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.EventID != nil && (e.EventID == nil || *e.EventID != *f.EventID) {
			continue
		}
		filtered = append(filtered, e)
	}
	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

// Entries returns a copy of everything appended so far, oldest first.
func (m *MemoryRepo) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
