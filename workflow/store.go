package workflow

import (
	"context"
	"time"

	"github.com/xraph/journey/id"
)

// ListOpts controls filtering for workflow list queries.
type ListOpts struct {
	// Status filters by workflow status. Empty means all statuses.
	Status Status
	// Type filters by workflow type. Empty means all types.
	Type string
	// Limit is the maximum number of workflows to return. Zero means no limit.
	Limit int
	// Offset is the number of workflows to skip.
	Offset int
}

// ExecListOpts controls filtering for execution list queries.
type ExecListOpts struct {
	// WorkflowID filters by workflow. Nil means all workflows.
	WorkflowID id.WorkflowID
	// CustomerID filters by customer. Empty means all customers.
	CustomerID string
	// States filters by execution state. Empty means all states.
	States []ExecState
	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
}

// Store defines the persistence contract for workflow definitions.
type Store interface {
	// CreateWorkflow persists a new workflow definition.
	CreateWorkflow(ctx context.Context, w *Workflow) error

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*Workflow, error)

	// UpdateWorkflow persists changes to an existing workflow.
	UpdateWorkflow(ctx context.Context, w *Workflow) error

	// DeleteWorkflow removes a workflow by ID.
	DeleteWorkflow(ctx context.Context, wfID id.WorkflowID) error

	// ListWorkflows returns workflows matching the given options.
	ListWorkflows(ctx context.Context, opts ListOpts) ([]*Workflow, error)
}

// ExecutionStore defines the persistence contract for executions.
type ExecutionStore interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists changes to an existing execution.
	UpdateExecution(ctx context.Context, e *Execution) error

	// ListExecutions returns executions matching the given options.
	ListExecutions(ctx context.Context, opts ExecListOpts) ([]*Execution, error)

	// CountActiveByWorkflow returns how many executions for the workflow
	// are scheduled or running.
	CountActiveByWorkflow(ctx context.Context, wfID id.WorkflowID) (int, error)

	// CountActiveByCustomer returns how many executions for the customer
	// are scheduled or running.
	CountActiveByCustomer(ctx context.Context, customerID string) (int, error)

	// DueExecutions returns scheduled executions whose due time is at or
	// before now, ordered by ScheduledAt ascending, limited to limit.
	DueExecutions(ctx context.Context, now time.Time, limit int) ([]*Execution, error)

	// TransitionExecution atomically updates the execution's state to
	// "to" only if the current state equals "from". Returns false when
	// the execution is in any other state. This is the guard that keeps
	// CancelExecution from racing the scheduler sweep.
	TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to ExecState) (bool, error)
}
