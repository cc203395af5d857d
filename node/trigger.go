package node

import (
	"context"

	"github.com/xraph/journey/workflow"
)

// Trigger is the workflow entry point, bound to an external event name.
// It is purely an anchor: executing it has no side effect beyond
// recording the event it matched.
type Trigger struct{}

// NewTrigger creates a trigger handler.
func NewTrigger() *Trigger { return &Trigger{} }

// Type returns the trigger type tag.
func (t *Trigger) Type() string { return workflow.NodeTypeTrigger }

// Schema declares the event binding.
func (t *Trigger) Schema() []Field {
	return []Field{
		{Name: "event", Type: TypeString, Required: true, MinLen: IntPtr(1)},
	}
}

// Execute records the matched event name.
func (t *Trigger) Execute(_ context.Context, n *workflow.Node, _ map[string]any) (*Outcome, error) {
	return &Outcome{
		Success: true,
		Output:  map[string]any{"event": ConfigString(n.Config, "event")},
	}, nil
}
