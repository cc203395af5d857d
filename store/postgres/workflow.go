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

// CreateWorkflow persists a new workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	nodes, err := marshalJSON(w.Nodes, "workflow nodes")
	if err != nil {
		return err
	}
	settings, err := marshalJSON(w.Settings, "workflow settings")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO journey_workflows (
			id, name, description, type, status, nodes, settings,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9
		)`,
		w.ID.String(), w.Name, w.Description, w.Type, string(w.Status),
		nodes, settings,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &journey.ConflictError{Msg: fmt.Sprintf("workflow %q already exists", w.ID)}
		}
		return fmt.Errorf("journey/postgres: create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, description, type, status, nodes, settings,
			created_at, updated_at
		FROM journey_workflows
		WHERE id = $1`,
		wfID.String(),
	)

	w, err := scanWorkflow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &journey.NotFoundError{Kind: "workflow", ID: wfID.String()}
		}
		return nil, fmt.Errorf("journey/postgres: get workflow: %w", err)
	}
	return w, nil
}

// UpdateWorkflow persists changes to an existing workflow.
func (s *Store) UpdateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	nodes, err := marshalJSON(w.Nodes, "workflow nodes")
	if err != nil {
		return err
	}
	settings, err := marshalJSON(w.Settings, "workflow settings")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE journey_workflows SET
			name = $2, description = $3, type = $4, status = $5,
			nodes = $6, settings = $7, updated_at = NOW()
		WHERE id = $1`,
		w.ID.String(), w.Name, w.Description, w.Type, string(w.Status),
		nodes, settings,
	)
	if err != nil {
		return fmt.Errorf("journey/postgres: update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &journey.NotFoundError{Kind: "workflow", ID: w.ID.String()}
	}
	return nil
}

// DeleteWorkflow removes a workflow by ID.
func (s *Store) DeleteWorkflow(ctx context.Context, wfID id.WorkflowID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journey_workflows WHERE id = $1`, wfID.String())
	if err != nil {
		return fmt.Errorf("journey/postgres: delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &journey.NotFoundError{Kind: "workflow", ID: wfID.String()}
	}
	return nil
}

// ListWorkflows returns workflows matching the given options.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	query := `
		SELECT
			id, name, description, type, status, nodes, settings,
			created_at, updated_at
		FROM journey_workflows
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
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
		return nil, fmt.Errorf("journey/postgres: list workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

// scanWorkflow reads one workflow row.
func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	var (
		w            workflow.Workflow
		idStr        string
		status       string
		nodesJSON    []byte
		settingsJSON []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := row.Scan(
		&idStr, &w.Name, &w.Description, &w.Type, &status,
		&nodesJSON, &settingsJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.ID, err = id.ParseWorkflowID(idStr)
	if err != nil {
		return nil, fmt.Errorf("journey/postgres: parse workflow id: %w", err)
	}
	w.Status = workflow.Status(status)
	if err := unmarshalJSON(nodesJSON, &w.Nodes, "workflow nodes"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(settingsJSON, &w.Settings, "workflow settings"); err != nil {
		return nil, err
	}
	w.CreatedAt = createdAt
	w.UpdatedAt = updatedAt
	return &w, nil
}

func collectWorkflows(rows pgx.Rows) ([]*workflow.Workflow, error) {
	workflows := make([]*workflow.Workflow, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("journey/postgres: scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journey/postgres: iterate workflows: %w", err)
	}
	return workflows, nil
}
