package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// ChangeRepo — журнал изменений коллекций (change_log) и курсоры поллера.
//
// Журнал заполняют триггеры БД или приложения; движок только читает его.
type ChangeRepo struct {
	pool *pgxpool.Pool
}

// NewChangeRepo создаёт новый ChangeRepo.
func NewChangeRepo(pool *pgxpool.Pool) *ChangeRepo {
	return &ChangeRepo{pool: pool}
}

// Append добавляет запись в журнал и возвращает её ID.
func (r *ChangeRepo) Append(ctx context.Context, ev domain.ChangeEvent) (int64, error) {
	var doc []byte
	if ev.Document != nil {
		data, err := json.Marshal(ev.Document)
		if err != nil {
			return 0, fmt.Errorf("marshal document: %w", err)
		}
		doc = data
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO change_log (collection, operation, document_id, document)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, ev.Collection, ev.Operation, nullString(ev.DocumentID), doc).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return id, nil
}

// ListSince возвращает изменения коллекции с ID больше afterID.
func (r *ChangeRepo) ListSince(ctx context.Context, collection string, afterID int64, limit int) ([]domain.ChangeEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, collection, operation, document_id, document, changed_at
		FROM change_log
		WHERE collection = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, collection, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var out []domain.ChangeEvent
	for rows.Next() {
		var (
			ev    domain.ChangeEvent
			docID *string
			doc   []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Collection, &ev.Operation, &docID, &doc, &ev.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		ev.DocumentID = deref(docID)
		if doc != nil {
			if err := json.Unmarshal(doc, &ev.Document); err != nil {
				return nil, fmt.Errorf("unmarshal document: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestID возвращает ID последней записи коллекции (0 для пустого журнала).
func (r *ChangeRepo) LatestID(ctx context.Context, collection string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM change_log WHERE collection = $1`, collection).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest change: %w", err)
	}
	return id, nil
}

// Cursor возвращает курсор триггера; found = false, если курсора ещё нет.
func (r *ChangeRepo) Cursor(ctx context.Context, workflowID, nodeID string) (int64, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT last_id FROM change_cursors WHERE workflow_id = $1 AND node_id = $2`, workflowID, nodeID)
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, false, fmt.Errorf("scan cursor: %w", err)
	}
	return id, true, nil
}

// SaveCursor сохраняет курсор триггера.
func (r *ChangeRepo) SaveCursor(ctx context.Context, workflowID, nodeID string, lastID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO change_cursors (workflow_id, node_id, last_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, node_id) DO UPDATE SET last_id = EXCLUDED.last_id
	`, workflowID, nodeID, lastID)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
