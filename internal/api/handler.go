package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// WorkflowStore загружает определения workflow.
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
}

// ExecutionStore читает записанные execution.
type ExecutionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]domain.Execution, error)
}

// Dispatcher передаёт события-триггеры воркерам.
type Dispatcher interface {
	PublishTrigger(ctx context.Context, ev *domain.TriggerEvent) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflows  WorkflowStore
	executions ExecutionStore
	dispatcher Dispatcher
	validator  *engine.Validator
	schemas    *engine.SchemaValidator
	hooks      *WebhookRouter
	secrets    services.Secrets
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Workflows  WorkflowStore
	Executions ExecutionStore
	Dispatcher Dispatcher

	// Validator — проверка графов для /workflows/validate.
	Validator *engine.Validator

	// Hooks — таблица webhook-маршрутов (default: пустой роутер).
	Hooks *WebhookRouter

	// Secrets — значения секретов webhook (default: EnvSecrets).
	Secrets services.Secrets

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NewWebhookRouter("", logger)
	}
	secrets := cfg.Secrets
	if secrets == nil {
		secrets = services.EnvSecrets{}
	}
	return &Handler{
		workflows:  cfg.Workflows,
		executions: cfg.Executions,
		dispatcher: cfg.Dispatcher,
		validator:  cfg.Validator,
		schemas:    engine.NewSchemaValidator(),
		hooks:      hooks,
		secrets:    secrets,
		logger:     logger,
	}
}

// dispatch публикует событие и отдаёт 202 с ID будущего execution.
func (h *Handler) dispatch(ctx context.Context, ev *domain.TriggerEvent) (ExecutionAccepted, error) {
	if err := h.dispatcher.PublishTrigger(ctx, ev); err != nil {
		return ExecutionAccepted{}, err
	}
	h.logger.Info("trigger event dispatched",
		"workflow_id", ev.WorkflowID,
		"node_id", ev.NodeID,
		"event_id", ev.ID,
		"source", ev.Source,
	)
	return ExecutionAccepted{
		ExecutionID: ev.ID,
		WorkflowID:  ev.WorkflowID,
		NodeID:      ev.NodeID,
		Status:      domain.RunStatusPending,
	}, nil
}
