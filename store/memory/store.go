// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
	"github.com/xraph/journey/queue"
	"github.com/xraph/journey/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store          = (*Store)(nil)
	_ workflow.ExecutionStore = (*Store)(nil)
	_ queue.Store             = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	workflows  map[string]*workflow.Workflow
	executions map[string]*workflow.Execution
	entries    map[string]*queue.Entry

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*workflow.Workflow),
		executions: make(map[string]*workflow.Execution),
		entries:    make(map[string]*queue.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return journey.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained for inspection.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateWorkflow persists a new workflow definition.
func (m *Store) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, exists := m.workflows[key]; exists {
		return &journey.ConflictError{Msg: "workflow " + key + " already exists"}
	}
	m.workflows[key] = copyWorkflow(w)
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (m *Store) GetWorkflow(_ context.Context, wfID id.WorkflowID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[wfID.String()]
	if !ok {
		return nil, &journey.NotFoundError{Kind: "workflow", ID: wfID.String()}
	}
	return copyWorkflow(w), nil
}

// UpdateWorkflow persists changes to an existing workflow.
func (m *Store) UpdateWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, ok := m.workflows[key]; !ok {
		return &journey.NotFoundError{Kind: "workflow", ID: key}
	}
	m.workflows[key] = copyWorkflow(w)
	return nil
}

// DeleteWorkflow removes a workflow by ID.
func (m *Store) DeleteWorkflow(_ context.Context, wfID id.WorkflowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wfID.String()
	if _, ok := m.workflows[key]; !ok {
		return &journey.NotFoundError{Kind: "workflow", ID: key}
	}
	delete(m.workflows, key)
	return nil
}

// ListWorkflows returns workflows matching the given options, ordered
// by creation time descending.
func (m *Store) ListWorkflows(_ context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		if opts.Status != "" && w.Status != opts.Status {
			continue
		}
		if opts.Type != "" && w.Type != opts.Type {
			continue
		}
		matched = append(matched, copyWorkflow(w))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		return &journey.ConflictError{Msg: "execution " + key + " already exists"}
	}
	m.executions[key] = copyExecution(e)
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, &journey.NotFoundError{Kind: "execution", ID: execID.String()}
	}
	return copyExecution(e), nil
}

// UpdateExecution persists changes to an existing execution.
func (m *Store) UpdateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.executions[key]; !ok {
		return &journey.NotFoundError{Kind: "execution", ID: key}
	}
	m.executions[key] = copyExecution(e)
	return nil
}

// ListExecutions returns executions matching the given options, ordered
// by creation time descending.
func (m *Store) ListExecutions(_ context.Context, opts workflow.ExecListOpts) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*workflow.Execution, 0, len(m.executions))
	for _, e := range m.executions {
		if !opts.WorkflowID.IsNil() && e.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.CustomerID != "" && e.CustomerID != opts.CustomerID {
			continue
		}
		if len(opts.States) > 0 && !containsState(opts.States, e.State) {
			continue
		}
		matched = append(matched, copyExecution(e))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// CountActiveByWorkflow returns how many executions for the workflow
// are scheduled or running.
func (m *Store) CountActiveByWorkflow(_ context.Context, wfID id.WorkflowID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.executions {
		if e.WorkflowID == wfID && !e.State.Terminal() {
			n++
		}
	}
	return n, nil
}

// CountActiveByCustomer returns how many executions for the customer
// are scheduled or running.
func (m *Store) CountActiveByCustomer(_ context.Context, customerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.executions {
		if e.CustomerID == customerID && !e.State.Terminal() {
			n++
		}
	}
	return n, nil
}

// DueExecutions returns scheduled executions due at or before now,
// ordered by ScheduledAt ascending.
func (m *Store) DueExecutions(_ context.Context, now time.Time, limit int) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*workflow.Execution, 0, limit)
	for _, e := range m.executions {
		if e.State != workflow.StateScheduled {
			continue
		}
		if e.ScheduledAt.After(now) {
			continue
		}
		due = append(due, copyExecution(e))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// TransitionExecution atomically moves the execution from one state to
// another. Returns false without error when the current state differs
// from "from".
func (m *Store) TransitionExecution(_ context.Context, execID id.ExecutionID, from, to workflow.ExecState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return false, &journey.NotFoundError{Kind: "execution", ID: execID.String()}
	}
	if e.State != from {
		return false, nil
	}
	e.State = to
	now := time.Now().UTC()
	switch to {
	case workflow.StateRunning:
		if e.StartedAt == nil {
			e.StartedAt = &now
		}
	case workflow.StateCompleted, workflow.StateFailed, workflow.StateCancelled:
		e.CompletedAt = &now
	}
	e.UpdatedAt = now
	return true, nil
}

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// EnqueueEntry persists a new queue entry.
func (m *Store) EnqueueEntry(_ context.Context, entry *queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, exists := m.entries[key]; exists {
		return &journey.ConflictError{Msg: "queue entry " + key + " already exists"}
	}
	m.entries[key] = copyEntry(entry)
	return nil
}

// GetEntry retrieves a queue entry by ID.
func (m *Store) GetEntry(_ context.Context, entryID id.EntryID) (*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, &journey.NotFoundError{Kind: "queue entry", ID: entryID.String()}
	}
	return copyEntry(e), nil
}

// UpdateEntry persists changes to an existing queue entry.
func (m *Store) UpdateEntry(_ context.Context, entry *queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.entries[key]; !ok {
		return &journey.NotFoundError{Kind: "queue entry", ID: key}
	}
	m.entries[key] = copyEntry(entry)
	return nil
}

// ClaimEntry atomically increments a pending entry's attempt counter
// from the expected value. Returns false without error when the entry
// is no longer pending or another drainer already claimed it.
func (m *Store) ClaimEntry(_ context.Context, entryID id.EntryID, expectedAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return false, &journey.NotFoundError{Kind: "queue entry", ID: entryID.String()}
	}
	if e.Status != queue.StatusPending || e.Attempts != expectedAttempts {
		return false, nil
	}
	e.Attempts++
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DueEntries returns pending entries due at or before now, ordered by
// priority descending then ScheduledAt ascending.
func (m *Store) DueEntries(_ context.Context, now time.Time, limit int) ([]*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*queue.Entry, 0, limit)
	for _, e := range m.entries {
		if e.Status != queue.StatusPending {
			continue
		}
		if e.ScheduledAt.After(now) {
			continue
		}
		due = append(due, copyEntry(e))
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListEntries returns queue entries matching the given options, ordered
// by ScheduledAt ascending.
func (m *Store) ListEntries(_ context.Context, opts queue.ListOpts) ([]*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*queue.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if opts.EventName != "" && e.EventName != opts.EventName {
			continue
		}
		matched = append(matched, copyEntry(e))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledAt.Before(matched[j].ScheduledAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// CountEntries returns queue statistics grouped by status and by
// pending event name.
func (m *Store) CountEntries(_ context.Context) (*queue.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &queue.Stats{
		ByStatus: make(map[queue.Status]int64),
		ByEvent:  make(map[string]int64),
	}
	for _, e := range m.entries {
		stats.ByStatus[e.Status]++
		if e.Status == queue.StatusPending {
			stats.ByEvent[e.EventName]++
		}
	}
	return stats, nil
}

// PurgeEntries removes processed and failed entries whose ProcessedAt
// is before the given time.
func (m *Store) PurgeEntries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, e := range m.entries {
		if e.Status == queue.StatusPending {
			continue
		}
		if e.ProcessedAt == nil || !e.ProcessedAt.Before(before) {
			continue
		}
		delete(m.entries, key)
		removed++
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyWorkflow(w *workflow.Workflow) *workflow.Workflow {
	cp := *w
	cp.Nodes = make([]workflow.Node, len(w.Nodes))
	copy(cp.Nodes, w.Nodes)
	cp.Settings = copyMap(w.Settings)
	return &cp
}

func copyExecution(e *workflow.Execution) *workflow.Execution {
	cp := *e
	cp.Context = copyMap(e.Context)
	if e.Results != nil {
		cp.Results = make(map[string]workflow.NodeResult, len(e.Results))
		for k, v := range e.Results {
			cp.Results[k] = v
		}
	}
	return &cp
}

func copyEntry(e *queue.Entry) *queue.Entry {
	cp := *e
	cp.Payload = copyMap(e.Payload)
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func containsState(states []workflow.ExecState, s workflow.ExecState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
