// Package journal is the append-only history of what the coordinator did:
// sessions started, ended and dropped, rejected requests and dispatched
// console commands. It is an audit trail only and is never read back into
// the session registry.
package journal

import (
	"context"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Journal defines the persistence interface for journal events.
// Implementations include the SQLite journal and an in-memory journal for
// tests and ephemeral runs.
type Journal interface {
	// Record appends ev and assigns its ID. A zero ev.At is set to now.
	Record(ctx context.Context, ev model.Event) error

	// List returns matching events, newest first.
	List(ctx context.Context, filters model.EventFilters) ([]model.Event, error)

	// Prune deletes events recorded before cutoff and returns how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying storage.
	Close() error
}

func pageSize(filters model.EventFilters) int {
	if filters.PageSize == nil || *filters.PageSize <= 0 {
		return DefaultPageSize
	}
	if *filters.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return int(*filters.PageSize)
}

func offset(filters model.EventFilters) int {
	if filters.Offset == nil || *filters.Offset < 0 {
		return 0
	}
	return int(*filters.Offset)
}
