package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/mq"
	"github.com/shaiso/Nodeflow/internal/repo"
)

// Значения по умолчанию.
const (
	defaultConcurrency = 4
	defaultPrefetch    = 1
)

// WorkflowSource загружает определение workflow по ID.
type WorkflowSource interface {
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
}

// Runner выполняет workflow. Реализуется orchestrator.Engine.
type Runner interface {
	Execute(ctx context.Context, def *domain.WorkflowDefinition, event *domain.TriggerEvent) (*domain.Execution, error)
}

// Notifier сообщает о завершённых run.
type Notifier interface {
	PublishExecutionCompleted(ctx context.Context, exec *domain.Execution) error
}

// Worker исполняет run по входящим TriggerEvent.
//
// Worker — stateless компонент системы, который:
//   - Получает TriggerEvent из очереди RabbitMQ
//   - Загружает определение workflow
//   - Выполняет run через Engine (результаты пишет sink Engine)
//   - Публикует execution.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди. Внутри процесса параллельно
// выполняется не больше Concurrency run.
type Worker struct {
	workflows WorkflowSource
	engine    Runner
	notifier  Notifier
	conn      *mq.Connection

	concurrency int
	logger      *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Workflows WorkflowSource
	Engine    Runner

	// Notifier — опционально; без него completion не публикуется.
	Notifier Notifier

	// Conn — подключение к RabbitMQ (нужно только для Start).
	Conn *mq.Connection

	// Concurrency — количество параллельных run (default: 4).
	Concurrency int

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Engine == nil {
		return nil, ErrNoEngine
	}
	if cfg.Workflows == nil {
		return nil, ErrNoWorkflows
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		workflows:   cfg.Workflows,
		engine:      cfg.Engine,
		notifier:    cfg.Notifier,
		conn:        cfg.Conn,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start запускает Concurrency consumer'ов очереди triggers.events.
// Каждый consumer обрабатывает сообщения последовательно, поэтому
// их количество и есть лимит параллельных run.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return ErrNoConnection
	}
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "concurrency", w.concurrency)

	handler := mq.TriggerHandler(w.Handle)
	for i := 0; i < w.concurrency; i++ {
		consumer := mq.NewConsumer(w.conn, mq.ConsumerConfig{
			Queue:    mq.QueueTriggerEvents,
			Handler:  handler,
			Prefetch: defaultPrefetch,
			Logger:   w.logger.With("consumer", i),
		})
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("trigger consumer error", "error", err)
			}
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих run.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// Handle выполняет run для одного события.
//
// Неизвестный workflow отклоняется в DLQ. Ошибка загрузки определения
// возвращается как есть, и сообщение уходит на повторную доставку.
// Итог run (в том числе FAILED и невалидный граф) — не ошибка доставки:
// он уже записан sink'ом Engine.
func (w *Worker) Handle(ctx context.Context, ev *domain.TriggerEvent) error {
	logger := w.logger.With("workflow_id", ev.WorkflowID, "event_id", ev.ID, "source", ev.Source)

	def, err := w.workflows.Get(ctx, ev.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("workflow not found, rejecting event")
			return mq.Reject(fmt.Errorf("workflow %s: %w", ev.WorkflowID, err))
		}
		return fmt.Errorf("load workflow %s: %w", ev.WorkflowID, err)
	}

	exec, err := w.engine.Execute(ctx, def, ev)
	if exec == nil {
		return mq.Reject(fmt.Errorf("execute workflow %s: %w", ev.WorkflowID, err))
	}
	if err != nil {
		logger.Info("execution finished with error", "execution_id", exec.ID, "status", exec.Status, "error", err)
	}

	if w.notifier != nil {
		if perr := w.notifier.PublishExecutionCompleted(context.WithoutCancel(ctx), exec); perr != nil {
			logger.Warn("failed to publish execution completed", "execution_id", exec.ID, "error", perr)
		}
	}
	return nil
}
