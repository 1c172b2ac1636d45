package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/executors"
)

// WorkflowSource отдаёт активные workflow.
type WorkflowSource interface {
	ListActive(ctx context.Context) ([]domain.WorkflowDefinition, error)
}

// ScheduleStore хранит зарегистрированные schedule-триггеры.
type ScheduleStore interface {
	Upsert(ctx context.Context, t *domain.ScheduleTrigger) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleTrigger, error)
	RecordFire(ctx context.Context, t *domain.ScheduleTrigger) error
	DisableMissing(ctx context.Context, keep []string) (int, error)
}

// Publisher отправляет события-триггеры воркерам.
type Publisher interface {
	PublishTrigger(ctx context.Context, ev *domain.TriggerEvent) error
}

// Scheduler — планировщик schedule-триггеров.
type Scheduler struct {
	workflows WorkflowSource
	schedules ScheduleStore
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Workflows WorkflowSource
	Schedules ScheduleStore
	Publisher Publisher
	Logger    *slog.Logger
	BatchSize int // количество триггеров за один тик (default: 100)

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if cfg.Workflows == nil || cfg.Schedules == nil {
		return nil, ErrNoStore
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		workflows: cfg.Workflows,
		schedules: cfg.Schedules,
		publisher: cfg.Publisher,
		logger:    logger,
		batchSize: batchSize,
		now:       now,
	}, nil
}

// Sync регистрирует schedule-узлы активных workflow и выключает
// триггеры, которых больше нет. Узлы с некорректной конфигурацией
// пропускаются с предупреждением.
func (s *Scheduler) Sync(ctx context.Context) error {
	defs, err := s.workflows.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}

	now := s.now().UTC()
	keep := make([]string, 0)
	for i := range defs {
		def := &defs[i]
		for j := range def.Nodes {
			node := &def.Nodes[j]
			if node.Type != executors.TypeSchedule {
				continue
			}
			t, err := executors.ScheduleTriggerFor(def.ID, node, now)
			if err != nil {
				s.logger.Warn("invalid schedule trigger, skipping",
					"workflow_id", def.ID,
					"node_id", node.ID,
					"error", err,
				)
				continue
			}
			if err := s.schedules.Upsert(ctx, t); err != nil {
				return fmt.Errorf("upsert schedule %s: %w", t.Key(), err)
			}
			if t.Enabled {
				keep = append(keep, t.Key())
			}
		}
	}

	disabled, err := s.schedules.DisableMissing(ctx, keep)
	if err != nil {
		return fmt.Errorf("disable stale schedules: %w", err)
	}
	s.logger.Debug("schedules synced", "active", len(keep), "disabled", disabled)
	return nil
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due-триггеры (enabled, next_due_at <= now)
// 2. Для каждого публикует TriggerEvent
// 3. Записывает срабатывание и следующий next_due_at
//
// Ошибки одного триггера не блокируют обработку остальных.
// Возвращает количество опубликованных событий.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()

	due, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Debug("found due schedules", "count", len(due))

	fired := 0
	var errs []error
	for i := range due {
		t := &due[i]
		if err := s.fire(ctx, t, now); err != nil {
			s.logger.Error("failed to fire schedule",
				"workflow_id", t.WorkflowID,
				"node_id", t.NodeID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		fired++
	}

	s.logger.Info("scheduler tick completed", "due", len(due), "fired", fired)
	if fired == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return fired, nil
}

// fire публикует событие одного триггера и сдвигает next_due_at.
//
// next_due_at считается от now, а не от прошлого значения, поэтому
// пропущенные за время простоя запуски не догоняются пачкой.
func (s *Scheduler) fire(ctx context.Context, t *domain.ScheduleTrigger, now time.Time) error {
	next, err := executors.NextDue(t, now)
	if err != nil {
		return fmt.Errorf("next due: %w", err)
	}

	ev := domain.NewTriggerEvent(t.WorkflowID, t.NodeID, domain.SourceSchedule, map[string]any{
		"firedAt":     now.Format(time.RFC3339),
		"scheduledAt": t.NextDueAt.UTC().Format(time.RFC3339),
	})
	if err := s.publisher.PublishTrigger(ctx, ev); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}

	t.RecordFire(now, next)
	if err := s.schedules.RecordFire(ctx, t); err != nil {
		return fmt.Errorf("record fire: %w", err)
	}

	s.logger.Info("schedule fired",
		"workflow_id", t.WorkflowID,
		"node_id", t.NodeID,
		"event_id", ev.ID,
		"next_due_at", next,
	)
	return nil
}

// Run синхронизирует триггеры раз в syncEvery и тикает раз в tick
// до отмены ctx.
func (s *Scheduler) Run(ctx context.Context, tick, syncEvery time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	if syncEvery <= 0 {
		syncEvery = 30 * time.Second
	}
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("schedule sync failed", "error", err)
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	syncer := time.NewTicker(syncEvery)
	defer syncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncer.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error("schedule sync failed", "error", err)
			}
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}
