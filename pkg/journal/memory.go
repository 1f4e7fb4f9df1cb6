package journal

import (
	"context"
	"sync"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

// Memory is an in-memory Journal. It mirrors the SQLite journal's ordering
// and paging.
type Memory struct {
	mu     sync.RWMutex
	now    func() time.Time
	nextID int64
	events []model.Event
}

var _ Journal = (*Memory)(nil)

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) Record(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) List(_ context.Context, filters model.EventFilters) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	skip, limit := offset(filters), pageSize(filters)
	var out []model.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		if filters.LimitToUserID != nil && ev.UserID != *filters.LimitToUserID {
			continue
		}
		if filters.LimitToKind != nil && ev.Kind != *filters.LimitToKind {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, ev := range m.events {
		if ev.At.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

func (m *Memory) Close() error { return nil }
