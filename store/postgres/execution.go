package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/journey"
	"github.com/xraph/journey/id"
	"github.com/xraph/journey/workflow"
)

const executionColumns = `
	id, workflow_id, customer_id, context, state, current_node_id,
	scheduled_at, started_at, completed_at, results, error,
	created_at, updated_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	execCtx, err := marshalJSON(e.Context, "execution context")
	if err != nil {
		return err
	}
	results, err := marshalJSON(e.Results, "execution results")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO journey_executions (
			id, workflow_id, customer_id, context, state, current_node_id,
			scheduled_at, started_at, completed_at, results, error,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)`,
		e.ID.String(), e.WorkflowID.String(), e.CustomerID, execCtx,
		string(e.State), e.CurrentNodeID,
		e.ScheduledAt, e.StartedAt, e.CompletedAt, results, e.Error,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &journey.ConflictError{Msg: fmt.Sprintf("execution %q already exists", e.ID)}
		}
		return fmt.Errorf("journey/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM journey_executions WHERE id = $1`,
		execID.String(),
	)

	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &journey.NotFoundError{Kind: "execution", ID: execID.String()}
		}
		return nil, fmt.Errorf("journey/postgres: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution persists changes to an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	execCtx, err := marshalJSON(e.Context, "execution context")
	if err != nil {
		return err
	}
	results, err := marshalJSON(e.Results, "execution results")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE journey_executions SET
			customer_id = $2, context = $3, state = $4, current_node_id = $5,
			scheduled_at = $6, started_at = $7, completed_at = $8,
			results = $9, error = $10, updated_at = NOW()
		WHERE id = $1`,
		e.ID.String(), e.CustomerID, execCtx, string(e.State), e.CurrentNodeID,
		e.ScheduledAt, e.StartedAt, e.CompletedAt,
		results, e.Error,
	)
	if err != nil {
		return fmt.Errorf("journey/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &journey.NotFoundError{Kind: "execution", ID: e.ID.String()}
	}
	return nil
}

// ListExecutions returns executions matching the given options.
func (s *Store) ListExecutions(ctx context.Context, opts workflow.ExecListOpts) ([]*workflow.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM journey_executions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !opts.WorkflowID.IsNil() {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, opts.WorkflowID.String())
		argIdx++
	}
	if opts.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argIdx)
		args = append(args, opts.CustomerID)
		argIdx++
	}
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		query += fmt.Sprintf(" AND state = ANY($%d)", argIdx)
		args = append(args, states)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// CountActiveByWorkflow returns how many executions for the workflow
// are scheduled or running.
func (s *Store) CountActiveByWorkflow(ctx context.Context, wfID id.WorkflowID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM journey_executions
		WHERE workflow_id = $1 AND state IN ('scheduled', 'running')`,
		wfID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journey/postgres: count active by workflow: %w", err)
	}
	return n, nil
}

// CountActiveByCustomer returns how many executions for the customer
// are scheduled or running.
func (s *Store) CountActiveByCustomer(ctx context.Context, customerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM journey_executions
		WHERE customer_id = $1 AND state IN ('scheduled', 'running')`,
		customerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journey/postgres: count active by customer: %w", err)
	}
	return n, nil
}

// DueExecutions returns scheduled executions whose due time is at or
// before now, ordered by ScheduledAt ascending. The scan is a plain
// read: the CAS transition is the claim that decides which sweeper
// wins each row.
func (s *Store) DueExecutions(ctx context.Context, now time.Time, limit int) ([]*workflow.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM journey_executions
		WHERE state = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: due executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// TransitionExecution atomically moves the execution from one state to
// another. The WHERE clause on the current state makes the update the
// compare-and-swap: zero rows affected means another caller won.
func (s *Store) TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to workflow.ExecState) (bool, error) {
	query := `
		UPDATE journey_executions SET
			state = $3,
			started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query, execID.String(), string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("journey/postgres: transition execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM journey_executions WHERE id = $1)`,
			execID.String(),
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("journey/postgres: transition execution: %w", err)
		}
		if !exists {
			return false, &journey.NotFoundError{Kind: "execution", ID: execID.String()}
		}
		return false, nil
	}
	return true, nil
}

// scanExecution reads one execution row.
func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var (
		e           workflow.Execution
		idStr       string
		wfIDStr     string
		state       string
		ctxJSON     []byte
		resultsJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := row.Scan(
		&idStr, &wfIDStr, &e.CustomerID, &ctxJSON, &state, &e.CurrentNodeID,
		&e.ScheduledAt, &e.StartedAt, &e.CompletedAt, &resultsJSON, &e.Error,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ID, err = id.ParseExecutionID(idStr)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: parse execution id: %w", err)
	}
	e.WorkflowID, err = id.ParseWorkflowID(wfIDStr)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: parse workflow id: %w", err)
	}
	e.State = workflow.ExecState(state)
	if err := unmarshalJSON(ctxJSON, &e.Context, "execution context"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(resultsJSON, &e.Results, "execution results"); err != nil {
		return nil, err
	}
	e.CreatedAt = createdAt
	e.UpdatedAt = updatedAt
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]*workflow.Execution, error) {
	executions := make([]*workflow.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("journey/postgres: scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journey/postgres: iterate executions: %w", err)
	}
	return executions, nil
}
