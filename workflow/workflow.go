// Package workflow defines workflow definitions, the node graph model,
// executions, and the persistence contracts for both.
package workflow

import (
	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
)

// Status represents the lifecycle state of a workflow definition.
type Status string

const (
	// StatusActive means the workflow may be executed and triggered.
	StatusActive Status = "active"
	// StatusInactive means the workflow is disabled.
	StatusInactive Status = "inactive"
)

// Built-in node type tags. Custom handlers register additional tags.
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeAction    = "action"
	NodeTypeDelay     = "delay"
	NodeTypeCondition = "condition"
)

// OutputKeySelectedNext is the node output key a branching handler uses
// to name the successor the engine should advance to. The engine
// validates the value against the node's declared successor list.
const OutputKeySelectedNext = "selected_next_node_id"

// Node is one step in a workflow graph: a type tag, a heterogeneous
// config map, and the ids of its successor nodes.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
	Next   []string       `json:"next,omitempty"`
}

// HasNext reports whether nodeID appears in the node's successor list.
func (n *Node) HasNext(nodeID string) bool {
	for _, next := range n.Next {
		if next == nodeID {
			return true
		}
	}
	return false
}

// Workflow is a named graph of nodes describing an automated process
// triggered by an event.
type Workflow struct {
	journey.Entity

	ID          id.WorkflowID  `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	Status      Status         `json:"status"`
	Nodes       []Node         `json:"nodes"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Node returns the node with the given id, if present.
func (w *Workflow) Node(nodeID string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == nodeID {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// TriggerNode returns the workflow's first trigger node — the traversal
// entry point.
func (w *Workflow) TriggerNode() (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Type == NodeTypeTrigger {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// TriggerEvent returns the event name a trigger node is bound to, from
// its "event" config field.
func (n *Node) TriggerEvent() string {
	if n.Type != NodeTypeTrigger {
		return ""
	}
	event, _ := n.Config["event"].(string)
	return event
}
