package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
	mw "github.com/xraph/journey/middleware"
	"github.com/xraph/journey/node"
	"github.com/xraph/journey/workflow"
)

// customerKey is the execution-context key carrying the customer
// identity used for admission control.
const customerKey = "customer_id"

func customerID(execCtx map[string]any) string {
	v, ok := execCtx[customerKey]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ExecuteWorkflow starts a synchronous execution of an active workflow
// and runs the traversal to completion, failure or suspension. The
// returned execution reflects the final persisted state.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wfID id.WorkflowID, execCtx map[string]any) (*workflow.Execution, error) {
	w, err := e.loadDefinition(ctx, wfID)
	if err != nil {
		return nil, err
	}
	if w.Status != workflow.StatusActive {
		return nil, &journey.StateError{Op: "execute workflow", State: string(w.Status)}
	}

	trigger, ok := w.TriggerNode()
	if !ok {
		return nil, &journey.StructureError{Problems: []string{"workflow has no trigger node"}}
	}

	cust := customerID(execCtx)
	if err := e.admit(ctx, cust); err != nil {
		return nil, err
	}

	now := e.clock()
	exec := &workflow.Execution{
		Entity:        journey.NewEntity(),
		ID:            id.NewExecutionID(),
		WorkflowID:    wfID,
		CustomerID:    cust,
		Context:       copyContext(execCtx),
		State:         workflow.StateRunning,
		CurrentNodeID: trigger.ID,
		ScheduledAt:   now,
		StartedAt:     &now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.limits.Release(cust)
		return nil, err
	}

	e.traverse(ctx, w, exec)
	return exec, nil
}

// ScheduleWorkflow creates a scheduled execution due at a strictly
// future time. No traversal runs until the sweep promotes it.
func (e *Engine) ScheduleWorkflow(ctx context.Context, wfID id.WorkflowID, execCtx map[string]any, when time.Time) (*workflow.Execution, error) {
	if !when.After(e.clock()) {
		verr := &journey.ValidationError{}
		verr.Add("when", "schedule time must be in the future")
		return nil, verr
	}

	w, err := e.loadDefinition(ctx, wfID)
	if err != nil {
		return nil, err
	}
	if w.Status != workflow.StatusActive {
		return nil, &journey.StateError{Op: "schedule workflow", State: string(w.Status)}
	}
	trigger, ok := w.TriggerNode()
	if !ok {
		return nil, &journey.StructureError{Problems: []string{"workflow has no trigger node"}}
	}

	cust := customerID(execCtx)
	if err := e.admit(ctx, cust); err != nil {
		return nil, err
	}

	exec := &workflow.Execution{
		Entity:        journey.NewEntity(),
		ID:            id.NewExecutionID(),
		WorkflowID:    wfID,
		CustomerID:    cust,
		Context:       copyContext(execCtx),
		State:         workflow.StateScheduled,
		CurrentNodeID: trigger.ID,
		ScheduledAt:   when.UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.limits.Release(cust)
		return nil, err
	}

	e.logger.Info("execution scheduled",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", wfID.String()),
		slog.Time("scheduled_at", exec.ScheduledAt))
	return exec, nil
}

// admit grants an execution slot for the customer. The in-process
// counter is the atomic gate; the persisted active count backs it so
// executions created before this process started still count against
// the concurrency cap.
func (e *Engine) admit(ctx context.Context, cust string) error {
	if max := e.limits.MaxConcurrent(cust); max > 0 {
		active, err := e.store.CountActiveByCustomer(ctx, cust)
		if err != nil {
			return err
		}
		if active >= max {
			return &journey.LimitExceededError{CustomerID: cust, Limit: max}
		}
	}
	if !e.limits.Acquire(cust) {
		return &journey.LimitExceededError{
			CustomerID: cust,
			Limit:      e.limits.MaxConcurrent(cust),
		}
	}
	return nil
}

// CancelExecution cancels a scheduled execution. Returns false when the
// execution is in any other state — the conditional transition is what
// keeps cancellation from racing the sweep that promotes the same
// execution to running.
func (e *Engine) CancelExecution(ctx context.Context, execID id.ExecutionID) (bool, error) {
	exec, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return false, err
	}

	ok, err := e.store.TransitionExecution(ctx, execID, workflow.StateScheduled, workflow.StateCancelled)
	if err != nil || !ok {
		return false, err
	}

	e.limits.Release(exec.CustomerID)
	e.logger.Info("execution cancelled",
		slog.String("execution_id", execID.String()))
	return true, nil
}

// traverse walks the workflow graph from exec.CurrentNodeID until the
// execution completes, fails, or suspends on a delay node. All state is
// persisted through the store; admission is released on terminal
// states only.
func (e *Engine) traverse(ctx context.Context, w *workflow.Workflow, exec *workflow.Execution) {
	started := e.clock()
	if exec.StartedAt != nil {
		started = *exec.StartedAt
	}

	for exec.CurrentNodeID != "" {
		if err := ctx.Err(); err != nil {
			e.fail(ctx, exec, err)
			return
		}

		// Cooperative timeout, checked once per node step.
		if elapsed := e.clock().Sub(started); elapsed > e.cfg.ExecutionTimeout {
			e.fail(ctx, exec, &journey.TimeoutError{
				ExecutionID: exec.ID.String(),
				Budget:      e.cfg.ExecutionTimeout,
			})
			return
		}

		n, ok := w.Node(exec.CurrentNodeID)
		if !ok {
			e.fail(ctx, exec, &journey.NotFoundError{Kind: "node", ID: exec.CurrentNodeID})
			return
		}

		res, err := e.step(ctx, exec, n)
		if err != nil {
			e.fail(ctx, exec, err)
			return
		}

		exec.RecordResult(res.NodeResult)
		if !res.Success {
			e.fail(ctx, exec, errors.New(res.Error))
			return
		}
		exec.MergeOutput(res.Output)

		next, err := nextNode(n, res)
		if err != nil {
			e.fail(ctx, exec, err)
			return
		}
		exec.CurrentNodeID = next

		// A delay node parks the execution back in scheduled state;
		// the sweep resumes it from the successor when due.
		if res.Suspend > 0 && next != "" {
			e.suspend(ctx, exec, res.Suspend)
			return
		}

		exec.Touch()
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.logger.Error("execution checkpoint failed",
				slog.String("execution_id", exec.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	e.complete(ctx, exec)
}

// step runs one node through its lifecycle runner, wrapped in the
// engine's middleware chain.
func (e *Engine) step(ctx context.Context, exec *workflow.Execution, n *workflow.Node) (*node.Result, error) {
	handler, err := e.nodes.New(n.Type)
	if err != nil {
		return nil, err
	}
	runner := node.NewRunner(handler).WithClock(e.clock)

	stepMeta := &mw.Step{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		CustomerID:  exec.CustomerID,
		NodeID:      n.ID,
		NodeType:    n.Type,
	}

	var res *node.Result
	err = e.chain(ctx, stepMeta, func(ctx context.Context) error {
		res = runner.Run(ctx, n, exec.Context)
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	})
	if res == nil {
		// The chain short-circuited (panic recovery); synthesize a
		// failed result so the execution records it.
		msg := "node step aborted"
		if err != nil {
			msg = err.Error()
		}
		res = &node.Result{NodeResult: workflow.NodeResult{
			Success:   false,
			NodeID:    n.ID,
			NodeType:  n.Type,
			Timestamp: e.clock(),
			Error:     msg,
		}}
	}
	return res, nil
}

// nextNode picks the successor to advance to. A handler may select a
// branch explicitly; the selection must name a declared successor.
// Otherwise traversal takes the first successor, or stops when the node
// is terminal.
func nextNode(n *workflow.Node, res *node.Result) (string, error) {
	if sel, ok := res.SelectedNext(); ok {
		if !n.HasNext(sel) {
			return "", &journey.StructureError{Problems: []string{
				fmt.Sprintf("node %q selected successor %q which is not declared", n.ID, sel),
			}}
		}
		return sel, nil
	}
	if len(n.Next) > 0 {
		return n.Next[0], nil
	}
	return "", nil
}

// suspend parks a running execution back in the scheduled state with
// its resume point, keeping the admission slot held.
func (e *Engine) suspend(ctx context.Context, exec *workflow.Execution, d time.Duration) {
	exec.State = workflow.StateScheduled
	exec.ScheduledAt = e.clock().Add(d)
	exec.Touch()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("execution suspend failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Info("execution suspended",
		slog.String("execution_id", exec.ID.String()),
		slog.String("resume_node", exec.CurrentNodeID),
		slog.Time("resume_at", exec.ScheduledAt))
}

func (e *Engine) complete(ctx context.Context, exec *workflow.Execution) {
	now := e.clock()
	exec.State = workflow.StateCompleted
	exec.CompletedAt = &now
	exec.Touch()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("execution completion update failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()))
	}
	e.limits.Release(exec.CustomerID)
	e.logger.Info("execution completed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID.String()))
}

func (e *Engine) fail(ctx context.Context, exec *workflow.Execution, cause error) {
	now := e.clock()
	exec.State = workflow.StateFailed
	exec.CompletedAt = &now
	exec.Error = cause.Error()
	exec.Touch()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("execution failure update failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()))
	}
	e.limits.Release(exec.CustomerID)
	e.logger.Warn("execution failed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID.String()),
		slog.String("error", exec.Error))
}

func copyContext(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
