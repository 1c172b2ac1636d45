package domain

import "time"

// NodeState — состояние узла внутри одного run.
//
// Каждый узел графа получает NodeState в момент старта run.
// Узел, не дошедший до SUCCEEDED, всегда несёт причину (Reason или Result.Error).
type NodeState struct {
	// NodeID — ID узла в графе.
	NodeID string `json:"node_id"`

	// Type — тип узла.
	Type string `json:"type"`

	// Status — текущий статус.
	Status NodeStatus `json:"status"`

	// Attempts — количество попыток выполнения.
	Attempts int `json:"attempts"`

	// Retries — количество повторов (Attempts - 1 при хотя бы одной попытке).
	Retries int `json:"retries"`

	// Reason — причина SKIPPED/CANCELLED.
	Reason string `json:"reason,omitempty"`

	// Result — результат последней попытки.
	Result *NodeResult `json:"result,omitempty"`

	// StartedAt — время начала первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewNodeState создаёт состояние PENDING.
func NewNodeState(node Node) *NodeState {
	return &NodeState{
		NodeID: node.ID,
		Type:   node.Type,
		Status: NodeStatusPending,
	}
}

// Duration возвращает продолжительность выполнения.
func (s *NodeState) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// MarkRunning переводит узел в статус RUNNING.
func (s *NodeState) MarkRunning() {
	now := time.Now()
	s.Status = NodeStatusRunning
	s.StartedAt = &now
}

// Finish фиксирует результат: SUCCEEDED или FAILED.
func (s *NodeState) Finish(result *NodeResult, attempts int) {
	now := time.Now()
	s.FinishedAt = &now
	s.Result = result
	s.Attempts = attempts
	if attempts > 0 {
		s.Retries = attempts - 1
	}
	if result != nil && result.Success {
		s.Status = NodeStatusSucceeded
	} else {
		s.Status = NodeStatusFailed
	}
}

// MarkSkipped переводит узел в статус SKIPPED с причиной.
func (s *NodeState) MarkSkipped(reason string) {
	now := time.Now()
	s.Status = NodeStatusSkipped
	s.Reason = reason
	s.FinishedAt = &now
}

// MarkCancelled переводит узел в статус CANCELLED с причиной.
func (s *NodeState) MarkCancelled(reason string, attempts int) {
	now := time.Now()
	s.Status = NodeStatusCancelled
	s.Reason = reason
	s.Attempts = attempts
	s.FinishedAt = &now
}

// IsFinished возвращает true, если узел в финальном статусе.
func (s *NodeState) IsFinished() bool {
	return s.Status.IsTerminal()
}
