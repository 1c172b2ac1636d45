package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
)

// Execution DTOs

// CreateExecutionRequest — запрос на ручной запуск workflow.
type CreateExecutionRequest struct {
	// NodeID — триггер, которому адресован payload. Пусто — всем триггерам.
	NodeID  string `json:"node_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ExecutionAccepted — ответ на поставленный в очередь run.
type ExecutionAccepted struct {
	ExecutionID uuid.UUID        `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id"`
	NodeID      string           `json:"node_id,omitempty"`
	Status      domain.RunStatus `json:"status"`
}

// ExecutionResponse — ответ с execution и результатами узлов.
type ExecutionResponse struct {
	ID            uuid.UUID          `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	Status        domain.RunStatus   `json:"status"`
	Environment   string             `json:"environment,omitempty"`
	TriggerNodeID string             `json:"trigger_node_id,omitempty"`
	Error         string             `json:"error,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
	DurationMs    int64              `json:"duration_ms"`
	Summary       map[string]int     `json:"summary"`
	Nodes         []domain.NodeState `json:"nodes"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
// Узлы отсортированы по ID.
func ExecutionFromDomain(e *domain.Execution) ExecutionResponse {
	nodes := make([]domain.NodeState, 0, len(e.Nodes))
	for _, st := range e.SortedNodes() {
		nodes = append(nodes, *st)
	}
	summary := make(map[string]int)
	for status, n := range e.Summary() {
		summary[string(status)] = n
	}
	return ExecutionResponse{
		ID:            e.ID,
		WorkflowID:    e.WorkflowID,
		Status:        e.Status,
		Environment:   e.Environment,
		TriggerNodeID: e.TriggerNodeID,
		Error:         e.Error,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
		DurationMs:    e.Duration().Milliseconds(),
		Summary:       summary,
		Nodes:         nodes,
		CreatedAt:     e.CreatedAt,
	}
}

// Validation DTOs

// ValidationIssue — одна ошибка валидации графа.
type ValidationIssue struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResponse — результат проверки графа.
type ValidationResponse struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationIssue `json:"errors"`
}

// ValidationFromResult конвертирует engine.ValidationResult.
func ValidationFromResult(res *engine.ValidationResult) ValidationResponse {
	out := ValidationResponse{IsValid: res.IsValid, Errors: make([]ValidationIssue, 0, len(res.Errors))}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, ValidationIssue{NodeID: e.NodeID, Field: e.Field, Message: e.Message})
	}
	return out
}

// Form DTOs

// FormResponse — описание формы для внешнего рендера.
type FormResponse struct {
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id"`
	Form       any    `json:"form"`
}
