// Package queue provides a durable event queue with priority ordering,
// delayed delivery, exponential retry backoff, and dead-lettering.
// Entries drain through a dispatch callback — typically a Dispatcher —
// so producers are decoupled from flaky delivery paths.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/backoff"
	"github.com/xraph/journey/id"
)

// Dispatch delivers one drained event. A non-nil error marks the
// attempt failed and schedules a retry.
type Dispatch func(ctx context.Context, event string, payload map[string]any) error

// Queue coordinates durable event delivery over a Store.
type Queue struct {
	store       Store
	dispatch    Dispatch
	retry       backoff.Strategy
	maxAttempts int
	logger      *slog.Logger
	clock       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoff sets the retry delay strategy. Defaults to exponential
// backoff starting at the configured initial delay.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.retry = s }
}

// WithMaxAttempts sets the attempt budget before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.clock = now
		}
	}
}

// New creates a queue draining into the given dispatch callback.
func New(store Store, dispatch Dispatch, opts ...Option) *Queue {
	cfg := journey.DefaultConfig()
	q := &Queue{
		store:       store,
		dispatch:    dispatch,
		retry:       backoff.NewExponential(cfg.QueueInitialBackoff, 0),
		maxAttempts: cfg.QueueMaxAttempts,
		logger:      slog.Default(),
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PushOption adjusts a single Push call.
type PushOption func(*Entry)

// WithPriority sets the entry priority. Higher values drain first.
func WithPriority(p int) PushOption {
	return func(e *Entry) { e.Priority = p }
}

// WithScheduleAt delays delivery until the given time.
func WithScheduleAt(at time.Time) PushOption {
	return func(e *Entry) { e.ScheduledAt = at.UTC() }
}

// Push enqueues an event as a pending entry due immediately unless
// WithScheduleAt moves it into the future.
func (q *Queue) Push(ctx context.Context, event string, payload map[string]any, opts ...PushOption) (*Entry, error) {
	if event == "" {
		verr := &journey.ValidationError{}
		verr.Add("event_name", "event name is required")
		return nil, verr
	}

	entry := &Entry{
		Entity:      journey.NewEntity(),
		ID:          id.NewEntryID(),
		EventName:   event,
		Payload:     payload,
		Status:      StatusPending,
		ScheduledAt: q.clock(),
	}
	for _, opt := range opts {
		opt(entry)
	}

	if err := q.store.EnqueueEntry(ctx, entry); err != nil {
		return nil, err
	}
	q.logger.Debug("queue entry pushed",
		"entry_id", entry.ID,
		"event", event,
		"priority", entry.Priority,
		"scheduled_at", entry.ScheduledAt)
	return entry, nil
}

// Report summarizes one Process batch.
type Report struct {
	Processed    int `json:"processed"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// Process drains up to batchSize due entries through the dispatch
// callback, highest priority first. Failures never abort the batch: a
// failed entry is rescheduled with exponential backoff, or dead-
// lettered once its attempt budget is spent.
func (q *Queue) Process(ctx context.Context, batchSize int) (Report, error) {
	var report Report

	now := q.clock()
	due, err := q.store.DueEntries(ctx, now, batchSize)
	if err != nil {
		return report, err
	}

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// The due scan returns snapshots; the conditional claim is what
		// grants exclusive ownership of the attempt. Losing it means a
		// concurrent drainer got here first.
		claimed, err := q.store.ClaimEntry(ctx, entry.ID, entry.Attempts)
		if err != nil {
			q.logger.Error("queue entry claim failed",
				"entry_id", entry.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		entry.Attempts++

		dispatchErr := q.dispatch(ctx, entry.EventName, entry.Payload)
		if dispatchErr == nil {
			q.markProcessed(ctx, entry, &report)
			continue
		}
		q.markFailed(ctx, entry, dispatchErr, &report)
	}
	return report, nil
}

func (q *Queue) markProcessed(ctx context.Context, entry *Entry, report *Report) {
	now := q.clock()
	entry.Status = StatusProcessed
	entry.ProcessedAt = &now
	entry.Error = ""
	entry.Touch()

	if err := q.store.UpdateEntry(ctx, entry); err != nil {
		q.logger.Error("queue entry update failed",
			"entry_id", entry.ID, "error", err)
		return
	}
	report.Processed++
}

func (q *Queue) markFailed(ctx context.Context, entry *Entry, dispatchErr error, report *Report) {
	// Attempts was already incremented by the claim.
	entry.Error = dispatchErr.Error()
	entry.Touch()

	if entry.Attempts >= q.maxAttempts {
		now := q.clock()
		entry.Status = StatusFailed
		entry.ProcessedAt = &now
		q.logger.Warn("queue entry dead-lettered",
			"entry_id", entry.ID,
			"event", entry.EventName,
			"attempts", entry.Attempts,
			"error", dispatchErr)
	} else {
		entry.ScheduledAt = q.clock().Add(q.retry.Delay(entry.Attempts))
		q.logger.Debug("queue entry rescheduled",
			"entry_id", entry.ID,
			"event", entry.EventName,
			"attempt", entry.Attempts,
			"next_at", entry.ScheduledAt)
	}

	if err := q.store.UpdateEntry(ctx, entry); err != nil {
		q.logger.Error("queue entry update failed",
			"entry_id", entry.ID, "error", err)
		return
	}
	if entry.Status == StatusFailed {
		report.DeadLettered++
	} else {
		report.Retried++
	}
}

// Stats returns entry counts grouped by status and pending event name.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	return q.store.CountEntries(ctx)
}

// List returns entries matching the given options.
func (q *Queue) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return q.store.ListEntries(ctx, opts)
}

// Purge deletes processed and failed entries older than the retention
// window and returns the number removed.
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	before := q.clock().Add(-retention)
	n, err := q.store.PurgeEntries(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("queue purged", "removed", n, "before", before)
	}
	return n, nil
}

// Replay re-enqueues a dead-lettered entry as a fresh pending entry
// with a zero attempt count, due immediately. The original entry is
// left in place as a record.
func (q *Queue) Replay(ctx context.Context, entryID id.EntryID) (*Entry, error) {
	original, err := q.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusFailed {
		return nil, &journey.StateError{Op: "replay queue entry", State: string(original.Status)}
	}

	entry := &Entry{
		Entity:      journey.NewEntity(),
		ID:          id.NewEntryID(),
		EventName:   original.EventName,
		Payload:     original.Payload,
		Status:      StatusPending,
		Priority:    original.Priority,
		ScheduledAt: q.clock(),
	}
	if err := q.store.EnqueueEntry(ctx, entry); err != nil {
		return nil, err
	}
	q.logger.Info("queue entry replayed",
		"entry_id", entryID, "new_entry_id", entry.ID, "event", entry.EventName)
	return entry, nil
}
