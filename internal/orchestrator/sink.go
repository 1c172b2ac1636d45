package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// ResultSink сохраняет результаты run. Реализуется вызывающей стороной
// (repo.PostgresStore, repo.MemoryStore).
//
// RecordNodeResult вызывается для каждого узла, дошедшего до финального
// статуса, включая SKIPPED и CANCELLED. RecordRunCompletion — один раз в конце.
type ResultSink interface {
	RecordNodeResult(ctx context.Context, executionID uuid.UUID, node *domain.NodeState) error
	RecordRunCompletion(ctx context.Context, exec *domain.Execution) error
}

// NopSink ничего не сохраняет.
type NopSink struct{}

// RecordNodeResult реализует ResultSink.
func (NopSink) RecordNodeResult(context.Context, uuid.UUID, *domain.NodeState) error { return nil }

// RecordRunCompletion реализует ResultSink.
func (NopSink) RecordRunCompletion(context.Context, *domain.Execution) error { return nil }

// RecordingSink запоминает всё, что получил. Используется в тестах и CLI.
type RecordingSink struct {
	mu        sync.Mutex
	nodes     []domain.NodeState
	completed []domain.Execution
}

// RecordNodeResult реализует ResultSink.
func (s *RecordingSink) RecordNodeResult(_ context.Context, _ uuid.UUID, node *domain.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, *node)
	return nil
}

// RecordRunCompletion реализует ResultSink.
func (s *RecordingSink) RecordRunCompletion(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, *exec)
	return nil
}

// Nodes возвращает копии записанных состояний в порядке записи.
func (s *RecordingSink) Nodes() []domain.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NodeState(nil), s.nodes...)
}

// Completions возвращает завершённые run.
func (s *RecordingSink) Completions() []domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Execution(nil), s.completed...)
}
