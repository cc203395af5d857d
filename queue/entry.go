package queue

import (
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	// StatusPending marks an entry awaiting delivery (or a retry).
	StatusPending Status = "pending"
	// StatusProcessed marks an entry that was dispatched successfully.
	StatusProcessed Status = "processed"
	// StatusFailed marks a dead-lettered entry that exhausted its
	// attempt budget. Failed entries are never retried automatically.
	StatusFailed Status = "failed"
)

// Entry is one durably queued event awaiting dispatch.
type Entry struct {
	journey.Entity

	ID        id.EntryID     `json:"id"`
	EventName string         `json:"event_name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    Status         `json:"status"`

	// Attempts counts delivery attempts made so far. The claim that
	// grants a drainer ownership of the entry increments it, so each
	// dispatch attempt bumps it by exactly one.
	Attempts int `json:"attempts"`

	// Priority orders due entries within a processing batch; higher
	// values drain first.
	Priority int `json:"priority"`

	// ScheduledAt is the earliest time the entry becomes due. Pushes
	// default it to now; retries move it forward by the backoff delay.
	ScheduledAt time.Time  `json:"scheduled_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Error holds the most recent dispatch failure, if any.
	Error string `json:"error,omitempty"`
}
