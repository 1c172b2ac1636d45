package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/executors"
)

// ChangeStore — журнал изменений и курсоры триггеров database-change.
type ChangeStore interface {
	ListSince(ctx context.Context, collection string, afterID int64, limit int) ([]domain.ChangeEvent, error)
	LatestID(ctx context.Context, collection string) (int64, error)
	Cursor(ctx context.Context, workflowID, nodeID string) (int64, bool, error)
	SaveCursor(ctx context.Context, workflowID, nodeID string, lastID int64) error
}

// ChangePoller опрашивает журнал изменений для узлов database-change
// активных workflow и публикует подходящие изменения как TriggerEvent.
//
// Новый триггер начинает с конца журнала: история до его появления
// не воспроизводится.
type ChangePoller struct {
	workflows WorkflowSource
	changes   ChangeStore
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	now       func() time.Time

	mu       sync.Mutex
	lastPoll map[string]time.Time
}

// ChangePollerConfig — конфигурация ChangePoller.
type ChangePollerConfig struct {
	Workflows WorkflowSource
	Changes   ChangeStore
	Publisher Publisher
	Logger    *slog.Logger
	BatchSize int // изменений за один опрос триггера (default: 100)
	Now       func() time.Time
}

// NewChangePoller создаёт поллер.
func NewChangePoller(cfg ChangePollerConfig) (*ChangePoller, error) {
	if cfg.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if cfg.Workflows == nil || cfg.Changes == nil {
		return nil, ErrNoStore
	}
	p := &ChangePoller{
		workflows: cfg.Workflows,
		changes:   cfg.Changes,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		lastPoll:  make(map[string]time.Time),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Poll выполняет один проход по всем триггерам database-change.
// Триггер опрашивается не чаще своего pollInterval.
// Возвращает количество опубликованных событий.
func (p *ChangePoller) Poll(ctx context.Context) (int, error) {
	defs, err := p.workflows.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active workflows: %w", err)
	}

	now := p.now()
	published := 0
	for i := range defs {
		def := &defs[i]
		for j := range def.Nodes {
			node := &def.Nodes[j]
			if node.Type != executors.TypeDatabaseChange {
				continue
			}
			cfg, err := executors.ChangeConfigFor(node)
			if err != nil {
				p.logger.Warn("invalid database-change trigger, skipping",
					"workflow_id", def.ID,
					"node_id", node.ID,
					"error", err,
				)
				continue
			}
			if !p.due(def.ID+"/"+node.ID, cfg, now) {
				continue
			}
			n, err := p.pollNode(ctx, def.ID, node.ID, cfg)
			published += n
			if err != nil {
				p.logger.Error("change poll failed",
					"workflow_id", def.ID,
					"node_id", node.ID,
					"collection", cfg.Collection,
					"error", err,
				)
			}
		}
	}
	return published, nil
}

func (p *ChangePoller) due(key string, cfg *executors.ChangeConfig, now time.Time) bool {
	interval := time.Duration(cfg.PollInterval) * time.Second
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastPoll[key]; ok && now.Sub(last) < interval {
		return false
	}
	p.lastPoll[key] = now
	return true
}

// pollNode публикует изменения после курсора и продвигает его.
// При ошибке публикации курсор останавливается на последнем
// успешно отправленном изменении.
func (p *ChangePoller) pollNode(ctx context.Context, workflowID, nodeID string, cfg *executors.ChangeConfig) (int, error) {
	cursor, ok, err := p.changes.Cursor(ctx, workflowID, nodeID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		latest, err := p.changes.LatestID(ctx, cfg.Collection)
		if err != nil {
			return 0, fmt.Errorf("latest change id: %w", err)
		}
		if err := p.changes.SaveCursor(ctx, workflowID, nodeID, latest); err != nil {
			return 0, fmt.Errorf("save cursor: %w", err)
		}
		p.logger.Debug("change cursor initialised",
			"workflow_id", workflowID, "node_id", nodeID, "cursor", latest)
		return 0, nil
	}

	events, err := p.changes.ListSince(ctx, cfg.Collection, cursor, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list changes: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	last := cursor
	var pubErr error
	for _, ch := range events {
		payload := ch.Payload()
		if cfg.Matches(payload) {
			ev := domain.NewTriggerEvent(workflowID, nodeID, domain.SourceDBChange, payload)
			if err := p.publisher.PublishTrigger(ctx, ev); err != nil {
				pubErr = fmt.Errorf("publish change %d: %w", ch.ID, err)
				break
			}
			published++
		}
		last = ch.ID
	}

	if last != cursor {
		if err := p.changes.SaveCursor(ctx, workflowID, nodeID, last); err != nil {
			return published, fmt.Errorf("save cursor: %w", err)
		}
	}
	if published > 0 {
		p.logger.Info("database changes published",
			"workflow_id", workflowID,
			"node_id", nodeID,
			"collection", cfg.Collection,
			"count", published,
			"cursor", last,
		)
	}
	return published, pubErr
}

// Run опрашивает журнал раз в every до отмены ctx.
func (p *ChangePoller) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("change poll failed", "error", err)
			}
		}
	}
}
