package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shaiso/Nodeflow/internal/domain"
)

func chain(ids ...string) *domain.WorkflowDefinition {
	def := &domain.WorkflowDefinition{ID: "wf"}
	for i, id := range ids {
		def.Nodes = append(def.Nodes, domain.Node{ID: id, Type: "map"})
		if i > 0 {
			def.Connections = append(def.Connections, domain.Connection{Source: ids[i-1], Target: id})
		}
	}
	return def
}

func TestBuildDAG_SimpleChain(t *testing.T) {
	dag, err := BuildDAG(chain("A", "B", "C"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Проверяем количество узлов
	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}

	// Проверяем корневые узлы
	if len(dag.RootNodes) != 1 || dag.RootNodes[0].ID != "A" {
		t.Fatalf("expected single root A, got %v", dag.RootNodes)
	}

	order := make([]string, len(dag.Order))
	for i, n := range dag.Order {
		order[i] = n.ID
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDAG_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "A"}, {ID: "B"}, {ID: "C"}, {ID: "D"}},
		Connections: []domain.Connection{
			{Source: "A", Target: "B"},
			{Source: "A", Target: "C"},
			{Source: "C", Target: "D"},
			{Source: "B", Target: "D"},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Порядок входов D — порядок соединений
	if diff := cmp.Diff([]string{"C", "B"}, dag.Predecessors("D")); diff != "" {
		t.Errorf("predecessors mismatch (-want +got):\n%s", diff)
	}
	if dag.GetNode("D").InDegree != 2 {
		t.Errorf("expected InDegree 2, got %d", dag.GetNode("D").InDegree)
	}

	desc := dag.Descendants("A")
	if len(desc) != 3 {
		t.Errorf("expected 3 descendants of A, got %v", desc)
	}
}

func TestBuildDAG_PortOrder(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "m"}},
		Connections: []domain.Connection{
			{Source: "c", Target: "m", TargetPort: "input-10"},
			{Source: "a", Target: "m", TargetPort: "input-2"},
			{Source: "b", Target: "m", TargetPort: "input-3"},
		},
	}

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, dag.Predecessors("m")); diff != "" {
		t.Errorf("predecessors mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDAG_Cycle(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "A"}, {ID: "B"}},
		Connections: []domain.Connection{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "A"},
		},
	}

	_, err := BuildDAG(def)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, cyc.Nodes); diff != "" {
		t.Errorf("cycle nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDAG_UnknownNode(t *testing.T) {
	def := chain("A")
	def.Connections = append(def.Connections, domain.Connection{Source: "A", Target: "ghost"})

	_, err := BuildDAG(def)
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestBuildDAG_DuplicateEdgeCountedOnce(t *testing.T) {
	def := chain("A", "B")
	def.Connections = append(def.Connections, domain.Connection{Source: "A", Target: "B"})

	dag, err := BuildDAG(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dag.GetNode("B").InDegree != 1 {
		t.Errorf("duplicate edge should be counted once, got %d", dag.GetNode("B").InDegree)
	}
}
