package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// ScheduleRepo — репозиторий schedule-триггеров.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Upsert регистрирует триггер или обновляет его расписание.
//
// next_due_at сохраняется, если расписание не изменилось, чтобы
// повторная синхронизация не сдвигала ближайший запуск.
func (r *ScheduleRepo) Upsert(ctx context.Context, t *domain.ScheduleTrigger) error {
	query := `
		INSERT INTO schedule_triggers (workflow_id, node_id, cron_expr, interval_sec,
		                               timezone, enabled, next_due_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, node_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at,
		    next_due_at = CASE
		        WHEN schedule_triggers.cron_expr IS DISTINCT FROM EXCLUDED.cron_expr
		          OR schedule_triggers.interval_sec IS DISTINCT FROM EXCLUDED.interval_sec
		          OR schedule_triggers.timezone IS DISTINCT FROM EXCLUDED.timezone
		          OR NOT schedule_triggers.enabled
		        THEN EXCLUDED.next_due_at
		        ELSE schedule_triggers.next_due_at
		    END,
		    cron_expr = EXCLUDED.cron_expr,
		    interval_sec = EXCLUDED.interval_sec,
		    timezone = EXCLUDED.timezone
	`
	_, err := r.pool.Exec(ctx, query,
		t.WorkflowID,
		t.NodeID,
		nullString(t.CronExpr),
		nullInt(t.IntervalSec),
		t.Timezone,
		t.Enabled,
		t.NextDueAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert schedule trigger: %w", err)
	}
	return nil
}

// ListDue возвращает триггеры, готовые к срабатыванию.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleTrigger, error) {
	query := `
		SELECT workflow_id, node_id, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_fired_at, updated_at
		FROM schedule_triggers
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedule triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduleTrigger
	for rows.Next() {
		t, err := scanScheduleTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RecordFire сохраняет время срабатывания и следующий запуск.
func (r *ScheduleRepo) RecordFire(ctx context.Context, t *domain.ScheduleTrigger) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedule_triggers
		SET last_fired_at = $3, next_due_at = $4, updated_at = now()
		WHERE workflow_id = $1 AND node_id = $2
	`, t.WorkflowID, t.NodeID, t.LastFiredAt, t.NextDueAt)
	if err != nil {
		return fmt.Errorf("record schedule fire: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DisableMissing выключает триггеры, ключей которых (workflow/node) нет в keep.
// Возвращает число выключенных.
func (r *ScheduleRepo) DisableMissing(ctx context.Context, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE schedule_triggers
		SET enabled = false, updated_at = now()
		WHERE enabled = true
		  AND NOT (workflow_id || '/' || node_id = ANY($1))
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("disable schedule triggers: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func scanScheduleTrigger(row pgx.Row) (*domain.ScheduleTrigger, error) {
	var (
		t           domain.ScheduleTrigger
		cronExpr    *string
		intervalSec *int
	)
	err := row.Scan(
		&t.WorkflowID,
		&t.NodeID,
		&cronExpr,
		&intervalSec,
		&t.Timezone,
		&t.Enabled,
		&t.NextDueAt,
		&t.LastFiredAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan schedule trigger: %w", err)
	}
	t.CronExpr = deref(cronExpr)
	if intervalSec != nil {
		t.IntervalSec = *intervalSec
	}
	return &t, nil
}
