package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// MemoryStore — in-memory аналог Store для CLI и тестов.
// Методы повторяют методы Postgres-репозиториев.
type MemoryStore struct {
	Workflows  *MemoryWorkflows
	Executions *MemoryExecutions
	Schedules  *MemorySchedules
	Changes    *MemoryChanges
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Workflows:  &MemoryWorkflows{defs: make(map[string]memoryWorkflow)},
		Executions: &MemoryExecutions{execs: make(map[uuid.UUID]*domain.Execution)},
		Schedules:  &MemorySchedules{triggers: make(map[string]domain.ScheduleTrigger)},
		Changes:    &MemoryChanges{cursors: make(map[string]int64)},
	}
}

// --- Workflows ---

type memoryWorkflow struct {
	data   []byte
	active bool
}

// MemoryWorkflows хранит определения в виде JSON, чтобы вызывающий
// не мог изменить сохранённую копию.
type MemoryWorkflows struct {
	mu   sync.RWMutex
	defs map[string]memoryWorkflow
}

// Save создаёт или заменяет определение.
func (m *MemoryWorkflows) Save(_ context.Context, def *domain.WorkflowDefinition, active bool) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.ID] = memoryWorkflow{data: data, active: active}
	return nil
}

// Get возвращает копию определения.
func (m *MemoryWorkflows) Get(_ context.Context, id string) (*domain.WorkflowDefinition, error) {
	m.mu.RLock()
	w, ok := m.defs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDefinition(id, w.data)
}

// ListActive возвращает активные определения, отсортированные по ID.
func (m *MemoryWorkflows) ListActive(_ context.Context) ([]domain.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.WorkflowDefinition
	for id, w := range m.defs {
		if !w.active {
			continue
		}
		def, err := decodeDefinition(id, w.data)
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetActive включает или выключает workflow.
func (m *MemoryWorkflows) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.defs[id]
	if !ok {
		return ErrNotFound
	}
	w.active = active
	m.defs[id] = w
	return nil
}

// Delete удаляет workflow.
func (m *MemoryWorkflows) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[id]; !ok {
		return ErrNotFound
	}
	delete(m.defs, id)
	return nil
}

// --- Executions ---

// MemoryExecutions реализует orchestrator.ResultSink в памяти.
type MemoryExecutions struct {
	mu    sync.RWMutex
	execs map[uuid.UUID]*domain.Execution
}

func (m *MemoryExecutions) entry(id uuid.UUID) *domain.Execution {
	exec, ok := m.execs[id]
	if !ok {
		exec = &domain.Execution{ID: id, Status: domain.RunStatusRunning, Nodes: make(map[string]*domain.NodeState), CreatedAt: time.Now()}
		m.execs[id] = exec
	}
	return exec
}

// RecordNodeResult сохраняет копию состояния узла.
func (m *MemoryExecutions) RecordNodeResult(_ context.Context, executionID uuid.UUID, node *domain.NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *node
	m.entry(executionID).Nodes[node.NodeID] = &cp
	return nil
}

// RecordRunCompletion сохраняет итог run; состояния узлов объединяются
// с уже записанными.
func (m *MemoryExecutions) RecordRunCompletion(_ context.Context, exec *domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.entry(exec.ID)
	nodes := stored.Nodes
	*stored = *exec
	stored.Nodes = nodes
	return nil
}

// Get возвращает копию выполнения.
func (m *MemoryExecutions) Get(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(exec), nil
}

// ListByWorkflow возвращает последние выполнения workflow без состояний узлов.
func (m *MemoryExecutions) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Execution
	for _, exec := range m.execs {
		if exec.WorkflowID != workflowID {
			continue
		}
		cp := *exec
		cp.Nodes = make(map[string]*domain.NodeState)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyExecution(exec *domain.Execution) *domain.Execution {
	cp := *exec
	cp.Nodes = make(map[string]*domain.NodeState, len(exec.Nodes))
	for id, st := range exec.Nodes {
		s := *st
		cp.Nodes[id] = &s
	}
	return &cp
}

// --- Schedules ---

// MemorySchedules — schedule-триггеры в памяти.
type MemorySchedules struct {
	mu       sync.RWMutex
	triggers map[string]domain.ScheduleTrigger
}

// Upsert регистрирует триггер; next_due_at сохраняется, если расписание не изменилось.
func (m *MemorySchedules) Upsert(_ context.Context, t *domain.ScheduleTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *t
	next.UpdatedAt = time.Now()
	if prev, ok := m.triggers[t.Key()]; ok {
		next.LastFiredAt = prev.LastFiredAt
		if prev.Enabled && prev.CronExpr == t.CronExpr && prev.IntervalSec == t.IntervalSec && prev.Timezone == t.Timezone {
			next.NextDueAt = prev.NextDueAt
		}
	}
	m.triggers[t.Key()] = next
	return nil
}

// ListDue возвращает триггеры, готовые к срабатыванию, по возрастанию next_due_at.
func (m *MemorySchedules) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduleTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScheduleTrigger
	for _, t := range m.triggers {
		if t.IsDue(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(*out[j].NextDueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordFire сохраняет время срабатывания и следующий запуск.
func (m *MemorySchedules) RecordFire(_ context.Context, t *domain.ScheduleTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.triggers[t.Key()]
	if !ok {
		return ErrNotFound
	}
	stored.LastFiredAt = t.LastFiredAt
	stored.NextDueAt = t.NextDueAt
	stored.UpdatedAt = time.Now()
	m.triggers[t.Key()] = stored
	return nil
}

// DisableMissing выключает триггеры, ключей которых нет в keep.
func (m *MemorySchedules) DisableMissing(_ context.Context, keep []string) (int, error) {
	set := make(map[string]bool, len(keep))
	for _, k := range keep {
		set[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, t := range m.triggers {
		if t.Enabled && !set[key] {
			t.Enabled = false
			m.triggers[key] = t
			n++
		}
	}
	return n, nil
}

// Get возвращает триггер по ключу workflow/node.
func (m *MemorySchedules) Get(key string) (domain.ScheduleTrigger, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[key]
	return t, ok
}

// --- Changes ---

// MemoryChanges — журнал изменений в памяти.
type MemoryChanges struct {
	mu      sync.RWMutex
	log     []domain.ChangeEvent
	cursors map[string]int64
}

// Append добавляет запись и возвращает её ID.
func (m *MemoryChanges) Append(_ context.Context, ev domain.ChangeEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.log) + 1)
	if ev.ChangedAt.IsZero() {
		ev.ChangedAt = time.Now().UTC()
	}
	m.log = append(m.log, ev)
	return ev.ID, nil
}

// ListSince возвращает изменения коллекции с ID больше afterID.
func (m *MemoryChanges) ListSince(_ context.Context, collection string, afterID int64, limit int) ([]domain.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ChangeEvent
	for _, ev := range m.log {
		if ev.ID <= afterID || ev.Collection != collection {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LatestID возвращает ID последней записи коллекции.
func (m *MemoryChanges) LatestID(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.log) - 1; i >= 0; i-- {
		if m.log[i].Collection == collection {
			return m.log[i].ID, nil
		}
	}
	return 0, nil
}

// Cursor возвращает курсор триггера.
func (m *MemoryChanges) Cursor(_ context.Context, workflowID, nodeID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.cursors[workflowID+"/"+nodeID]
	return id, ok, nil
}

// SaveCursor сохраняет курсор триггера.
func (m *MemoryChanges) SaveCursor(_ context.Context, workflowID, nodeID string, lastID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[workflowID+"/"+nodeID] = lastID
	return nil
}
