package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDocuments — DocumentStore поверх PostgreSQL.
//
// Каждая коллекция — таблица (id text PRIMARY KEY, doc jsonb, updated_at).
// Фильтр применяется через оператор jsonb @>.
type PostgresDocuments struct {
	pool   *pgxpool.Pool
	schema string

	mu     sync.Mutex
	tables map[string]bool
}

// NewPostgresDocuments создаёт хранилище. schema — схема для таблиц коллекций
// (по умолчанию "public").
func NewPostgresDocuments(pool *pgxpool.Pool, schema string) *PostgresDocuments {
	if schema == "" {
		schema = "public"
	}
	return &PostgresDocuments{pool: pool, schema: schema, tables: make(map[string]bool)}
}

func (p *PostgresDocuments) table(ctx context.Context, collection string) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("collection is required")
	}
	name := pgx.Identifier{p.schema, collection}.Sanitize()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tables[name] {
		return name, nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, name)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("ensure table %s: %w", name, err)
	}
	p.tables[name] = true
	return name, nil
}

// Insert реализует DocumentStore.
func (p *PostgresDocuments) Insert(ctx context.Context, collection string, docs []map[string]any) (WriteResult, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return WriteResult{}, err
	}

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := DocumentID(doc)
		stored := copyDoc(doc)
		stored[IDField] = id
		raw, err := json.Marshal(stored)
		if err != nil {
			return WriteResult{}, fmt.Errorf("encode document: %w", err)
		}
		batch.Queue(fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2)`, table), id, raw)
		ids = append(ids, id)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	var res WriteResult
	for range ids {
		tag, err := br.Exec()
		if err != nil {
			return res, fmt.Errorf("insert into %s: %w", table, err)
		}
		res.Inserted += tag.RowsAffected()
	}
	res.IDs = ids
	return res, nil
}

// Update реализует DocumentStore: сливает set в совпавшие документы.
func (p *PostgresDocuments) Update(ctx context.Context, collection string, filter, set map[string]any) (WriteResult, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return WriteResult{}, err
	}
	filterJSON, setJSON, err := encodePair(filter, set)
	if err != nil {
		return WriteResult{}, err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET doc = doc || $2::jsonb, updated_at = now()
		WHERE doc @> $1::jsonb
		RETURNING id`, table)
	ids, err := p.collectIDs(ctx, query, filterJSON, setJSON)
	if err != nil {
		return WriteResult{}, fmt.Errorf("update %s: %w", table, err)
	}
	n := int64(len(ids))
	return WriteResult{Matched: n, Modified: n, IDs: ids}, nil
}

// Upsert реализует DocumentStore: заменяет совпавшие документы или вставляет новый.
func (p *PostgresDocuments) Upsert(ctx context.Context, collection string, filter, doc map[string]any) (WriteResult, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return WriteResult{}, err
	}
	filterJSON, docJSON, err := encodePair(filter, doc)
	if err != nil {
		return WriteResult{}, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		UPDATE %s SET doc = $2::jsonb || jsonb_build_object('id', id), updated_at = now()
		WHERE doc @> $1::jsonb
		RETURNING id`, table), filterJSON, docJSON)
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert %s: %w", table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert %s: %w", table, err)
	}

	res := WriteResult{Matched: int64(len(ids)), Modified: int64(len(ids)), IDs: ids}
	if len(ids) == 0 {
		merged := copyDoc(filter)
		for k, v := range doc {
			merged[k] = v
		}
		id := DocumentID(merged)
		merged[IDField] = id
		raw, err := json.Marshal(merged)
		if err != nil {
			return WriteResult{}, fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, doc) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, table), id, raw); err != nil {
			return WriteResult{}, fmt.Errorf("upsert insert %s: %w", table, err)
		}
		res = WriteResult{Inserted: 1, IDs: []string{id}}
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// Delete реализует DocumentStore.
func (p *PostgresDocuments) Delete(ctx context.Context, collection string, filter map[string]any) (WriteResult, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return WriteResult{}, err
	}
	filterJSON, err := json.Marshal(nonNil(filter))
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode filter: %w", err)
	}

	ids, err := p.collectIDs(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc @> $1::jsonb RETURNING id`, table), filterJSON)
	if err != nil {
		return WriteResult{}, fmt.Errorf("delete from %s: %w", table, err)
	}
	return WriteResult{Deleted: int64(len(ids)), IDs: ids}, nil
}

func (p *PostgresDocuments) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func encodePair(a, b map[string]any) ([]byte, []byte, error) {
	ra, err := json.Marshal(nonNil(a))
	if err != nil {
		return nil, nil, fmt.Errorf("encode filter: %w", err)
	}
	rb, err := json.Marshal(nonNil(b))
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	return ra, rb, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
