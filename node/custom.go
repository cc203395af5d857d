package node

import (
	"context"

	"github.com/xraph/journey/workflow"
)

// CustomFunc is the execution body of a user-defined node kind.
type CustomFunc func(ctx context.Context, n *workflow.Node, execCtx map[string]any) (*Outcome, error)

// Custom is a user-defined handler kind: a type tag, an optional config
// schema, and an execution function. Register its factory alongside the
// built-ins:
//
//	registry.Register("webhook", func() node.Handler {
//	    return node.NewCustom("webhook", schema, fn)
//	})
type Custom struct {
	typeTag string
	schema  []Field
	fn      CustomFunc
}

// NewCustom creates a custom handler.
func NewCustom(typeTag string, schema []Field, fn CustomFunc) *Custom {
	return &Custom{typeTag: typeTag, schema: schema, fn: fn}
}

// Type returns the custom type tag.
func (c *Custom) Type() string { return c.typeTag }

// Schema returns the declared config schema.
func (c *Custom) Schema() []Field { return c.schema }

// Execute invokes the user-supplied function.
func (c *Custom) Execute(ctx context.Context, n *workflow.Node, execCtx map[string]any) (*Outcome, error) {
	return c.fn(ctx, n, execCtx)
}
