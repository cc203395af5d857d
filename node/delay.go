package node

import (
	"context"
	"time"

	"github.com/xraph/journey/workflow"
)

// maxDelaySeconds caps a delay node at 30 days.
const maxDelaySeconds = 30 * 24 * 60 * 60

// Delay suspends traversal for a configured duration. The handler does
// not sleep: it signals the engine to persist a continuation, and the
// scheduler sweep resumes the execution once the delay elapses.
type Delay struct{}

// NewDelay creates a delay handler.
func NewDelay() *Delay { return &Delay{} }

// Type returns the delay type tag.
func (d *Delay) Type() string { return workflow.NodeTypeDelay }

// Schema declares the delay duration in seconds.
func (d *Delay) Schema() []Field {
	return []Field{
		{Name: "duration", Type: TypeInt, Required: true, Min: FloatPtr(1), Max: FloatPtr(maxDelaySeconds)},
	}
}

// Execute signals suspension for the configured duration.
func (d *Delay) Execute(_ context.Context, n *workflow.Node, _ map[string]any) (*Outcome, error) {
	seconds := ConfigInt(n.Config, "duration", 0)
	return &Outcome{
		Success: true,
		Output:  map[string]any{"delay_seconds": seconds},
		Suspend: time.Duration(seconds) * time.Second,
	}, nil
}
