package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stagegate/internal/domain"
)

// Repo is the SQLite implementation of store.WorkflowStore and
// store.DocumentStore.
type Repo struct {
	DB *sql.DB
}

// ErrNotFound aliases the domain sentinel so callers can match either.
var ErrNotFound = domain.ErrNotFound

type rowScanner interface {
	Scan(dest ...any) error
}

const workflowColumns = `id,request_json,stages_json,current_stage_index,created_at,updated_at`

func scanWorkflow(row rowScanner) (domain.Workflow, error) {
	var wf domain.Workflow
	var reqJSON, stagesJSON string
	if err := row.Scan(&wf.ID, &reqJSON, &stagesJSON, &wf.CurrentStageIndex, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return wf, err
	}
	if err := json.Unmarshal([]byte(reqJSON), &wf.Request); err != nil {
		return wf, fmt.Errorf("decode workflow %s request: %w", wf.ID, err)
	}
	if err := json.Unmarshal([]byte(stagesJSON), &wf.Stages); err != nil {
		return wf, fmt.Errorf("decode workflow %s stages: %w", wf.ID, err)
	}
	return wf, nil
}

// SaveWorkflow inserts or updates a workflow. Creation order is kept in seq.
func (r Repo) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	reqJSON, err := json.Marshal(wf.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	stagesJSON, err := json.Marshal(wf.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workflows(id,seq,title,requested_by,priority,status,current_stage_index,request_json,stages_json,created_at,updated_at)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM workflows),?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, requested_by=excluded.requested_by, priority=excluded.priority,
  status=excluded.status, current_stage_index=excluded.current_stage_index, request_json=excluded.request_json,
  stages_json=excluded.stages_json, updated_at=excluded.updated_at`,
		wf.ID, wf.Request.Title, wf.Request.RequestedBy, string(wf.Request.Priority), string(wf.Request.Status),
		wf.CurrentStageIndex, string(reqJSON), string(stagesJSON), wf.CreatedAt, wf.UpdatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	wf, err := scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workflow{}, domain.NotFound("workflow", id)
	}
	return wf, err
}

func (r Repo) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	return r.queryWorkflows(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY seq ASC`)
}

// ListWorkflowsByStatus filters on the indexed status column.
func (r Repo) ListWorkflowsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.Workflow, error) {
	return r.queryWorkflows(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE status=? ORDER BY seq ASC`, string(status))
}

func (r Repo) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, rows.Err()
}
