package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// ExecutionRepo — журнал выполнений и результатов узлов.
//
// Реализует orchestrator.ResultSink: результаты узлов пишутся по мере
// завершения, строка executions — в конце run.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// RecordNodeResult сохраняет финальное состояние узла.
func (r *ExecutionRepo) RecordNodeResult(ctx context.Context, executionID uuid.UUID, node *domain.NodeState) error {
	var result []byte
	if node.Result != nil {
		data, err := json.Marshal(node.Result)
		if err != nil {
			return fmt.Errorf("marshal node result: %w", err)
		}
		result = data
	}

	query := `
		INSERT INTO node_results (execution_id, node_id, type, status, attempts, retries,
		                          reason, result, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id, node_id) DO UPDATE
		SET status = EXCLUDED.status, attempts = EXCLUDED.attempts, retries = EXCLUDED.retries,
		    reason = EXCLUDED.reason, result = EXCLUDED.result,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at
	`
	_, err := r.pool.Exec(ctx, query,
		executionID,
		node.NodeID,
		node.Type,
		string(node.Status),
		node.Attempts,
		node.Retries,
		nullString(node.Reason),
		result,
		node.StartedAt,
		node.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node result: %w", err)
	}
	return nil
}

// RecordRunCompletion сохраняет итог run.
func (r *ExecutionRepo) RecordRunCompletion(ctx context.Context, exec *domain.Execution) error {
	query := `
		INSERT INTO executions (id, workflow_id, status, environment, trigger_node_id,
		                        started_at, finished_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at, error = EXCLUDED.error
	`
	_, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.WorkflowID,
		string(exec.Status),
		nullString(exec.Environment),
		nullString(exec.TriggerNodeID),
		exec.StartedAt,
		exec.FinishedAt,
		nullString(exec.Error),
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// Get возвращает выполнение вместе с состояниями узлов.
func (r *ExecutionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `
		SELECT id, workflow_id, status, environment, trigger_node_id,
		       started_at, finished_at, error, created_at
		FROM executions
		WHERE id = $1
	`
	exec, err := scanExecution(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT node_id, type, status, attempts, retries, reason, result, started_at, finished_at
		FROM node_results
		WHERE execution_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list node results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanNodeState(rows)
		if err != nil {
			return nil, err
		}
		exec.Nodes[st.NodeID] = st
	}
	return exec, rows.Err()
}

// ListByWorkflow возвращает последние выполнения workflow без состояний узлов.
func (r *ExecutionRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, status, environment, trigger_node_id,
		       started_at, finished_at, error, created_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// scanExecution сканирует строку executions.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var (
		exec                 domain.Execution
		status               string
		env, trigger, errMsg *string
	)
	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&status,
		&env,
		&trigger,
		&exec.StartedAt,
		&exec.FinishedAt,
		&errMsg,
		&exec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = domain.RunStatus(status)
	exec.Environment = deref(env)
	exec.TriggerNodeID = deref(trigger)
	exec.Error = deref(errMsg)
	exec.Nodes = make(map[string]*domain.NodeState)
	return &exec, nil
}

// scanNodeState сканирует строку node_results.
func scanNodeState(row pgx.Row) (*domain.NodeState, error) {
	var (
		st     domain.NodeState
		status string
		reason *string
		result []byte
	)
	err := row.Scan(
		&st.NodeID,
		&st.Type,
		&status,
		&st.Attempts,
		&st.Retries,
		&reason,
		&result,
		&st.StartedAt,
		&st.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan node result: %w", err)
	}
	st.Status = domain.NodeStatus(status)
	st.Reason = deref(reason)
	if result != nil {
		st.Result = &domain.NodeResult{}
		if err := json.Unmarshal(result, st.Result); err != nil {
			return nil, fmt.Errorf("unmarshal node result: %w", err)
		}
	}
	return &st, nil
}
