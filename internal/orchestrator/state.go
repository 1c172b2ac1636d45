package orchestrator

import (
	"fmt"
	"sync"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/executors"
)

// RunState — состояние одного run в памяти.
//
// Создаётся в начале Execute и живёт до RecordRunCompletion.
// Меняется только циклом диспетчера; горутины узлов возвращают
// результаты через канал. Мьютекс нужен для Stats из других горутин.
type RunState struct {
	// Exec — выполнение и состояния узлов.
	Exec *domain.Execution

	// DAG — граф узлов.
	DAG *engine.DAG

	// remaining — количество предшественников, ещё не дошедших до финального статуса.
	remaining map[string]int

	// policies — политики повторов запущенных узлов.
	policies map[string]executors.Policy

	// unmatched — триггеры, чей фильтр не пропустил событие.
	unmatched map[string]bool

	// fatal — упавшие узлы без errorHandling=continue, в порядке падения.
	fatal []string

	// aborted — причина прерывания run (ошибка конфигурации узла).
	aborted error

	// cancelled — run отменён извне или по таймауту.
	cancelled bool

	mu sync.RWMutex
}

// NewRunState создаёт состояние для выполнения exec по графу dag.
func NewRunState(exec *domain.Execution, dag *engine.DAG) *RunState {
	s := &RunState{
		Exec:      exec,
		DAG:       dag,
		remaining: make(map[string]int, len(dag.Nodes)),
		policies:  make(map[string]executors.Policy),
		unmatched: make(map[string]bool),
	}
	for id, n := range dag.Nodes {
		s.remaining[id] = n.InDegree
	}
	return s
}

// Node возвращает состояние узла.
func (s *RunState) Node(id string) *domain.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Exec.Nodes[id]
}

// markRunning переводит узел в RUNNING.
func (s *RunState) markRunning(id string, policy executors.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[id] = policy
	s.Exec.Nodes[id].MarkRunning()
}

// finish фиксирует результат выполненного узла.
func (s *RunState) finish(id string, res *domain.NodeResult, attempts int) *domain.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.Exec.Nodes[id]
	if res.ErrorKind == domain.KindCancelled {
		reason := res.Error
		if s.aborted != nil {
			reason = s.aborted.Error()
		} else {
			s.cancelled = true
		}
		st.MarkCancelled(reason, attempts)
		st.Result = res
		return st
	}

	st.Finish(res, attempts)
	if res.Success {
		if res.Unmatched {
			s.unmatched[id] = true
		}
		return st
	}
	if res.ErrorKind == domain.KindConfiguration && s.aborted == nil {
		s.aborted = fmt.Errorf("%w: node %s: %s", ErrRunAborted, id, res.Error)
	}
	if !s.policies[id].ContinueOnError() {
		s.fatal = append(s.fatal, id)
	}
	return st
}

// skip переводит узел в SKIPPED.
func (s *RunState) skip(id, reason string) *domain.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.Exec.Nodes[id]
	st.MarkSkipped(reason)
	return st
}

// markCancelled фиксирует отмену run, замеченную диспетчером.
func (s *RunState) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// settle уменьшает счётчики зависимых узла id и возвращает тех,
// у кого все предшественники в финальном статусе.
func (s *RunState) settle(id string) []*engine.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*engine.Node
	for _, dep := range s.DAG.Nodes[id].Dependents {
		s.remaining[dep.ID]--
		if s.remaining[dep.ID] == 0 {
			ready = append(ready, dep)
		}
	}
	return ready
}

// inputs собирает вход узла из результатов предшественников.
//
// Успешный предшественник даёт NodeResult.Data, упавший с
// errorHandling=continue — FailurePayload. Любой другой исход блокирует
// узел (возвращается причина), если allowMissing не разрешает nil на его месте.
func (s *RunState) inputs(n *engine.Node, allowMissing bool) ([]any, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]any, len(n.DependsOn))
	missing := 0
	firstReason := ""
	for i, pred := range n.DependsOn {
		st := s.Exec.Nodes[pred.ID]
		var (
			data   any
			reason string
		)
		switch {
		case st.Status == domain.NodeStatusSucceeded && s.unmatched[pred.ID]:
			reason = fmt.Sprintf("trigger %s did not match the event", pred.ID)
		case st.Status == domain.NodeStatusSucceeded:
			data = st.Result.Data
		case st.Status == domain.NodeStatusFailed && s.policies[pred.ID].ContinueOnError():
			data = st.Result.FailurePayload()
		default:
			reason = fmt.Sprintf("dependency %s is %s", pred.ID, st.Status)
		}

		if reason != "" {
			if !allowMissing {
				return nil, reason
			}
			missing++
			if firstReason == "" {
				firstReason = reason
			}
		}
		out[i] = data
	}
	if missing > 0 && missing == len(out) {
		return nil, "no inputs available: " + firstReason
	}
	return out, ""
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalNodes: len(s.Exec.Nodes)}
	for _, st := range s.Exec.Nodes {
		switch st.Status {
		case domain.NodeStatusSucceeded:
			stats.Succeeded++
		case domain.NodeStatusFailed:
			stats.Failed++
		case domain.NodeStatusSkipped:
			stats.Skipped++
		case domain.NodeStatusCancelled:
			stats.Cancelled++
		case domain.NodeStatusRunning:
			stats.Running++
		default:
			stats.Pending++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalNodes int
	Pending    int
	Running    int
	Succeeded  int
	Failed     int
	Skipped    int
	Cancelled  int
}

// outcome возвращает ошибку итога run или nil для COMPLETED.
func (s *RunState) outcome() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.aborted != nil:
		return s.aborted
	case s.cancelled:
		return domain.ErrCancelled
	case len(s.fatal) > 0:
		id := s.fatal[0]
		return fmt.Errorf("node %s failed: %s", id, s.Exec.Nodes[id].Result.Error)
	}
	return nil
}

// abortReason возвращает причину остановки диспетчера или "".
func (s *RunState) abortReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aborted != nil {
		return s.aborted.Error()
	}
	return ""
}
