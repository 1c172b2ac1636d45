package domain

import (
	"time"

	"github.com/google/uuid"
)

// Источники событий-триггеров.
const (
	SourceSchedule = "schedule"
	SourceWebhook  = "webhook"
	SourceForm     = "form"
	SourceEmail    = "email"
	SourceDBChange = "database-change"
	SourceManual   = "manual"
)

// TriggerEvent — входящее событие, запускающее run.
type TriggerEvent struct {
	// ID — идентификатор события (для логов и дедупликации).
	ID uuid.UUID `json:"id"`

	// WorkflowID — какой workflow запускать.
	WorkflowID string `json:"workflow_id"`

	// NodeID — какой триггер сработал. Пусто = все триггеры получают payload.
	NodeID string `json:"node_id,omitempty"`

	// Payload — начальные данные run.
	Payload any `json:"payload,omitempty"`

	// ReceivedAt — время получения события.
	ReceivedAt time.Time `json:"received_at"`

	// Source — откуда пришло событие (schedule, webhook, ...).
	Source string `json:"source,omitempty"`
}

// NewTriggerEvent создаёт событие с новым ID и текущим временем.
func NewTriggerEvent(workflowID, nodeID, source string, payload any) *TriggerEvent {
	return &TriggerEvent{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
		Source:     source,
	}
}
