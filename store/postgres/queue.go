package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
	"github.com/xraph/journey/queue"
)

const entryColumns = `
	id, event_name, payload, status, attempts, priority,
	scheduled_at, processed_at, error, created_at, updated_at`

// EnqueueEntry persists a new queue entry.
func (s *Store) EnqueueEntry(ctx context.Context, entry *queue.Entry) error {
	payload, err := marshalJSON(entry.Payload, "entry payload")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO journey_queue_entries (
			id, event_name, payload, status, attempts, priority,
			scheduled_at, processed_at, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)`,
		entry.ID.String(), entry.EventName, payload, string(entry.Status),
		entry.Attempts, entry.Priority,
		entry.ScheduledAt, entry.ProcessedAt, entry.Error,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &journey.ConflictError{Msg: fmt.Sprintf("queue entry %q already exists", entry.ID)}
		}
		return fmt.Errorf("journey/postgres: enqueue entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a queue entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM journey_queue_entries WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &journey.NotFoundError{Kind: "queue entry", ID: entryID.String()}
		}
		return nil, fmt.Errorf("journey/postgres: get entry: %w", err)
	}
	return entry, nil
}

// UpdateEntry persists entry state after a dispatch attempt.
func (s *Store) UpdateEntry(ctx context.Context, entry *queue.Entry) error {
	payload, err := marshalJSON(entry.Payload, "entry payload")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE journey_queue_entries SET
			event_name = $2, payload = $3, status = $4, attempts = $5,
			priority = $6, scheduled_at = $7, processed_at = $8,
			error = $9, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.EventName, payload, string(entry.Status),
		entry.Attempts, entry.Priority, entry.ScheduledAt, entry.ProcessedAt,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("journey/postgres: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &journey.NotFoundError{Kind: "queue entry", ID: entry.ID.String()}
	}
	return nil
}

// ClaimEntry atomically increments a pending entry's attempt counter
// from the expected value. The conditional update is what keeps
// concurrent drainers off the same entry: the loser sees zero rows
// affected and reports false.
func (s *Store) ClaimEntry(ctx context.Context, entryID id.EntryID, expectedAttempts int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE journey_queue_entries
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND attempts = $2`,
		entryID.String(), expectedAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("journey/postgres: claim entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM journey_queue_entries WHERE id = $1)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("journey/postgres: claim entry lookup: %w", err)
	}
	if !exists {
		return false, &journey.NotFoundError{Kind: "queue entry", ID: entryID.String()}
	}
	return false, nil
}

// DueEntries returns pending entries due at or before now, highest
// priority first, oldest due time first within a priority. The scan is
// a plain read: ClaimEntry arbitrates which drainer gets each entry.
func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]*queue.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM journey_queue_entries
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: due entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ListEntries returns entries matching the given options.
func (s *Store) ListEntries(ctx context.Context, opts queue.ListOpts) ([]*queue.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM journey_queue_entries WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.EventName != "" {
		query += fmt.Sprintf(" AND event_name = $%d", argIdx)
		args = append(args, opts.EventName)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: list entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// CountEntries returns queue statistics grouped by status and by
// pending event name.
func (s *Store) CountEntries(ctx context.Context) (*queue.Stats, error) {
	stats := &queue.Stats{
		ByStatus: make(map[queue.Status]int64),
		ByEvent:  make(map[string]int64),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM journey_queue_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: count entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("journey/postgres: scan status count: %w", err)
		}
		stats.ByStatus[queue.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journey/postgres: iterate status counts: %w", err)
	}

	eventRows, err := s.pool.Query(ctx, `
		SELECT event_name, COUNT(*) FROM journey_queue_entries
		WHERE status = 'pending' GROUP BY event_name`)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: count pending events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var event string
		var n int64
		if err := eventRows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("journey/postgres: scan event count: %w", err)
		}
		stats.ByEvent[event] = n
	}
	if err := eventRows.Err(); err != nil {
		return nil, fmt.Errorf("journey/postgres: iterate event counts: %w", err)
	}

	return stats, nil
}

// PurgeEntries removes settled entries whose ProcessedAt is before the
// given time. Returns the number removed.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM journey_queue_entries
		WHERE status IN ('processed', 'failed')
		  AND processed_at IS NOT NULL
		  AND processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("journey/postgres: purge entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEntry reads one queue entry row.
func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var (
		entry       queue.Entry
		idStr       string
		status      string
		payloadJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := row.Scan(
		&idStr, &entry.EventName, &payloadJSON, &status,
		&entry.Attempts, &entry.Priority,
		&entry.ScheduledAt, &entry.ProcessedAt, &entry.Error,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID, err = id.ParseEntryID(idStr)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: parse entry id: %w", err)
	}
	entry.Status = queue.Status(status)
	if err := unmarshalJSON(payloadJSON, &entry.Payload, "entry payload"); err != nil {
		return nil, err
	}
	entry.CreatedAt = createdAt
	entry.UpdatedAt = updatedAt
	return &entry, nil
}

func collectEntries(rows pgx.Rows) ([]*queue.Entry, error) {
	entries := make([]*queue.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journey/postgres: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journey/postgres: iterate entries: %w", err)
	}
	return entries, nil
}
