package queue

import (
	"context"
	"time"

	"github.com/xraph/journey/id"
)

// ListOpts controls pagination and filtering for entry list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Status filters by entry status. Empty means all statuses.
	Status Status
	// EventName filters by event name. Empty means all events.
	EventName string
}

// Stats summarizes queue contents.
type Stats struct {
	// ByStatus counts entries grouped by status.
	ByStatus map[Status]int64 `json:"by_status"`
	// ByEvent counts pending entries grouped by event name.
	ByEvent map[string]int64 `json:"by_event"`
}

// Store defines the persistence contract for the durable event queue.
type Store interface {
	// EnqueueEntry persists a new entry.
	EnqueueEntry(ctx context.Context, entry *Entry) error

	// GetEntry retrieves an entry by ID.
	GetEntry(ctx context.Context, entryID id.EntryID) (*Entry, error)

	// UpdateEntry persists entry state after a dispatch attempt.
	UpdateEntry(ctx context.Context, entry *Entry) error

	// ClaimEntry atomically increments a pending entry's attempt
	// counter from the expected value, claiming it for one dispatch
	// attempt. Returns false without error when the entry is no longer
	// pending or a concurrent drainer claimed it first.
	ClaimEntry(ctx context.Context, entryID id.EntryID, expectedAttempts int) (bool, error)

	// DueEntries returns pending entries with ScheduledAt <= now,
	// ordered by priority descending then ScheduledAt ascending,
	// limited to limit.
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// ListEntries returns entries matching the given options.
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// CountEntries returns queue statistics grouped by status and by
	// pending event name.
	CountEntries(ctx context.Context) (*Stats, error)

	// PurgeEntries removes processed and failed entries whose
	// ProcessedAt is before the given time. Returns the number removed.
	PurgeEntries(ctx context.Context, before time.Time) (int64, error)
}
