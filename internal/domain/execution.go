package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Execution — один проход графа workflow для одного события-триггера.
type Execution struct {
	// ID — уникальный идентификатор выполнения.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на WorkflowDefinition.
	WorkflowID string `json:"workflow_id"`

	// Status — текущий статус run.
	Status RunStatus `json:"status"`

	// Environment — окружение из Settings.
	Environment string `json:"environment,omitempty"`

	// TriggerNodeID — триггер, с которого начался run.
	TriggerNodeID string `json:"trigger_node_id,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — причина FAILED.
	Error string `json:"error,omitempty"`

	// Nodes — состояние каждого узла (nodeID → NodeState).
	Nodes map[string]*NodeState `json:"nodes"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewExecution создаёт выполнение в статусе PENDING.
func NewExecution(workflowID string) *Execution {
	return &Execution{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Status:     RunStatusPending,
		Nodes:      make(map[string]*NodeState),
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// IsFinished возвращает true, если run завершён.
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (e *Execution) MarkRunning() {
	now := time.Now()
	e.Status = RunStatusRunning
	e.StartedAt = &now
}

// MarkCompleted переводит run в статус COMPLETED.
func (e *Execution) MarkCompleted() {
	now := time.Now()
	e.Status = RunStatusCompleted
	e.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (e *Execution) MarkFailed(err string) {
	now := time.Now()
	e.Status = RunStatusFailed
	e.FinishedAt = &now
	e.Error = err
}

// Node возвращает состояние узла.
func (e *Execution) Node(id string) *NodeState {
	return e.Nodes[id]
}

// Result возвращает результат узла (nil, если узел не выполнялся).
func (e *Execution) Result(id string) *NodeResult {
	if st, ok := e.Nodes[id]; ok {
		return st.Result
	}
	return nil
}

// SortedNodes возвращает состояния узлов, отсортированные по ID.
func (e *Execution) SortedNodes() []*NodeState {
	out := make([]*NodeState, 0, len(e.Nodes))
	for _, st := range e.Nodes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Summary возвращает количество узлов по статусам.
func (e *Execution) Summary() map[NodeStatus]int {
	out := make(map[NodeStatus]int)
	for _, st := range e.Nodes {
		out[st.Status]++
	}
	return out
}
