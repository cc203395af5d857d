package workflow

import (
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
)

// ExecState represents the lifecycle state of an execution.
type ExecState string

const (
	// StateScheduled means the execution is waiting for its due time.
	StateScheduled ExecState = "scheduled"
	// StateRunning means the execution is traversing the node graph.
	StateRunning ExecState = "running"
	// StateCompleted means traversal reached a terminal node successfully.
	StateCompleted ExecState = "completed"
	// StateFailed means a node failed or the execution timed out.
	StateFailed ExecState = "failed"
	// StateCancelled means the execution was cancelled while scheduled.
	StateCancelled ExecState = "cancelled"
)

// Terminal reports whether the state is final. Terminal states admit no
// further transitions.
func (s ExecState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ActiveStates are the states that count against per-customer admission
// and block workflow deletion.
var ActiveStates = []ExecState{StateScheduled, StateRunning}

// NodeResult is the normalized envelope recorded for each executed node.
type NodeResult struct {
	Success       bool           `json:"success"`
	NodeID        string         `json:"node_id"`
	NodeType      string         `json:"node_type"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Timestamp     time.Time      `json:"timestamp"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Execution is one concrete run of a workflow against a context.
// The Context map accumulates node outputs as traversal advances;
// Results records the normalized outcome of every executed node.
type Execution struct {
	journey.Entity

	ID         id.ExecutionID `json:"id"`
	WorkflowID id.WorkflowID  `json:"workflow_id"`
	CustomerID string         `json:"customer_id"`
	Context    map[string]any `json:"context,omitempty"`
	State      ExecState      `json:"state"`

	// CurrentNodeID is the resume point: the node traversal starts (or
	// continues) from when the execution is promoted to running.
	CurrentNodeID string `json:"current_node_id,omitempty"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Results map[string]NodeResult `json:"results,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// RecordResult stores a node result, allocating the map on first use.
func (e *Execution) RecordResult(res NodeResult) {
	if e.Results == nil {
		e.Results = make(map[string]NodeResult)
	}
	e.Results[res.NodeID] = res
}

// MergeOutput merges a node's output map into the execution context.
// Key collisions are last-write-wins so later nodes observe all prior
// outputs.
func (e *Execution) MergeOutput(output map[string]any) {
	if len(output) == 0 {
		return
	}
	if e.Context == nil {
		e.Context = make(map[string]any, len(output))
	}
	for k, v := range output {
		e.Context[k] = v
	}
}
