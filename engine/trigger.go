package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/journey/workflow"
)

// sweepParallelism bounds how many due executions one sweep runs at
// once. Independent executions may run in parallel; each traversal
// stays strictly sequential.
const sweepParallelism = 8

// ProcessScheduledExecutions promotes due scheduled executions to
// running and resumes their traversal, up to the configured batch size.
// Per-item failures are recorded on the execution and never abort the
// batch. Returns how many executions were promoted.
func (e *Engine) ProcessScheduledExecutions(ctx context.Context) (int, error) {
	due, err := e.store.DueExecutions(ctx, e.clock(), e.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(sweepParallelism)

	promoted := 0
	for _, exec := range due {
		// Claim before running so a concurrent sweep or a late cancel
		// cannot double-run the same execution.
		ok, err := e.store.TransitionExecution(ctx, exec.ID, workflow.StateScheduled, workflow.StateRunning)
		if err != nil {
			e.logger.Error("execution claim failed",
				slog.String("execution_id", exec.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		promoted++

		exec := exec
		g.Go(func() error {
			e.resume(ctx, exec)
			return nil
		})
	}

	_ = g.Wait()
	return promoted, nil
}

// resume runs the traversal for a freshly promoted execution. The
// timeout budget restarts for each running leg, so a long delay
// suspension does not consume it.
func (e *Engine) resume(ctx context.Context, exec *workflow.Execution) {
	w, err := e.loadDefinition(ctx, exec.WorkflowID)
	if err != nil {
		e.fail(ctx, exec, err)
		return
	}

	now := e.clock()
	exec.State = workflow.StateRunning
	exec.StartedAt = &now
	if exec.CurrentNodeID == "" {
		if trigger, ok := w.TriggerNode(); ok {
			exec.CurrentNodeID = trigger.ID
		}
	}
	exec.Touch()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("execution promote update failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()))
	}

	e.traverse(ctx, w, exec)
}

// TriggerWorkflowsByEvent starts an execution of every active workflow
// whose trigger node names the given event. The fan-out is fail-soft:
// a workflow that cannot start is logged and skipped. Returns how many
// executions were started.
func (e *Engine) TriggerWorkflowsByEvent(ctx context.Context, event string, payload map[string]any) (int, error) {
	active, err := e.store.ListWorkflows(ctx, workflow.ListOpts{Status: workflow.StatusActive})
	if err != nil {
		return 0, err
	}

	var matched []*workflow.Workflow
	for _, w := range active {
		trigger, ok := w.TriggerNode()
		if !ok {
			continue
		}
		if trigger.TriggerEvent() == event {
			matched = append(matched, w)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(sweepParallelism)
	started := make(chan struct{}, len(matched))

	for _, w := range matched {
		w := w
		g.Go(func() error {
			if _, err := e.ExecuteWorkflow(ctx, w.ID, copyContext(payload)); err != nil {
				e.logger.Warn("event-triggered execution failed to start",
					slog.String("workflow_id", w.ID.String()),
					slog.String("event", event),
					slog.String("error", err.Error()))
				return nil
			}
			started <- struct{}{}
			return nil
		})
	}

	_ = g.Wait()
	close(started)
	return len(started), nil
}
