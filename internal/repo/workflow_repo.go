package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// WorkflowRepo — хранилище определений workflow.
//
// Определение хранится целиком в jsonb: движок получает снимок графа
// и никогда его не изменяет.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Save создаёт или заменяет определение workflow.
func (r *WorkflowRepo) Save(ctx context.Context, def *domain.WorkflowDefinition, active bool) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, definition = EXCLUDED.definition,
		    active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, def.ID, def.Name, data, active, time.Now()); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// Get возвращает определение workflow по ID.
func (r *WorkflowRepo) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT definition FROM workflows WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return decodeDefinition(id, data)
}

// ListActive возвращает все активные workflow.
func (r *WorkflowRepo) ListActive(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, definition FROM workflows
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		def, err := decodeDefinition(id, data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// SetActive включает или выключает workflow.
func (r *WorkflowRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE workflows SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет workflow.
func (r *WorkflowRepo) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeDefinition(id string, data []byte) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidDefinition, id, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	return &def, nil
}
