package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/xraph/journey/workflow"
)

// exprCache holds compiled condition expressions, shared across handler
// instances. Compiled programs are safe for concurrent reuse.
var exprCache = struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}{programs: make(map[string]*vm.Program)}

// Condition evaluates an expression against the execution context and
// selects a successor branch. The chosen branch is communicated through
// the selected_next_node_id output key, which the engine validates
// against the node's declared successor list.
//
// Two forms are supported:
//
//   - Boolean form: the expression yields a bool and the config names
//     "true_next" and "false_next" successor ids.
//   - Select form: the expression itself yields the successor id string.
type Condition struct{}

// NewCondition creates a condition handler.
func NewCondition() *Condition { return &Condition{} }

// Type returns the condition type tag.
func (c *Condition) Type() string { return workflow.NodeTypeCondition }

// Schema declares the expression and branch bindings.
func (c *Condition) Schema() []Field {
	return []Field{
		{Name: "expression", Type: TypeString, Required: true, MinLen: IntPtr(1)},
		{Name: "true_next", Type: TypeString},
		{Name: "false_next", Type: TypeString},
	}
}

// Execute evaluates the expression and emits the selected successor.
func (c *Condition) Execute(_ context.Context, n *workflow.Node, execCtx map[string]any) (*Outcome, error) {
	expression := ConfigString(n.Config, "expression")

	out, err := evaluate(expression, execCtx)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", n.ID, err)
	}

	var selected string
	switch v := out.(type) {
	case bool:
		if v {
			selected = ConfigString(n.Config, "true_next")
		} else {
			selected = ConfigString(n.Config, "false_next")
		}
		if selected == "" {
			return &Outcome{
				Success: false,
				Error:   fmt.Sprintf("condition %q evaluated to %v but no branch is configured for it", n.ID, v),
			}, nil
		}
	case string:
		selected = v
	default:
		return &Outcome{
			Success: false,
			Error:   fmt.Sprintf("condition %q yielded %T, expected bool or successor id string", n.ID, out),
		}, nil
	}

	return &Outcome{
		Success: true,
		Output: map[string]any{
			workflow.OutputKeySelectedNext: selected,
			"condition_result":             out,
		},
	}, nil
}

// evaluate compiles (or fetches from cache) and runs an expression with
// the execution context as its environment.
func evaluate(expression string, env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}

	prg, err := compiled(expression, env)
	if err != nil {
		return nil, err
	}
	return vm.Run(prg, env)
}

func compiled(expression string, env map[string]any) (*vm.Program, error) {
	exprCache.mu.RLock()
	prg, ok := exprCache.programs[expression]
	exprCache.mu.RUnlock()
	if ok {
		return prg, nil
	}

	exprCache.mu.Lock()
	defer exprCache.mu.Unlock()

	// Double-check after acquiring the write lock.
	if prg, ok = exprCache.programs[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	exprCache.programs[expression] = prg
	return prg, nil
}
