package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Def — определение узла из WorkflowDefinition.
	Def *domain.Node

	// ID — идентификатор узла.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — предшественники в порядке входов.
	// Этот порядок задаёт порядок inputs[] для merge.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	ports []string
}

// DAG — направленный ациклический граф узлов workflow.
type DAG struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (триггеры), в порядке объявления.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// CycleError — цикл в графе. Nodes — узлы, оставшиеся в цикле.
type CycleError struct {
	Nodes []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency between nodes: %s", strings.Join(e.Nodes, ", "))
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// BuildDAG строит DAG из WorkflowDefinition.
//
// Соединения на неизвестные узлы — ошибка. Цикл — *CycleError.
func BuildDAG(def *domain.WorkflowDefinition) (*DAG, error) {
	ids := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		ids[n.ID] = true
	}
	for i, c := range def.Connections {
		if !ids[c.Source] {
			return nil, NewValidationError(c.Source, fmt.Sprintf("connections[%d].source", i),
				fmt.Sprintf("unknown node %q", c.Source), ErrUnknownNode)
		}
		if !ids[c.Target] {
			return nil, NewValidationError(c.Target, fmt.Sprintf("connections[%d].target", i),
				fmt.Sprintf("unknown node %q", c.Target), ErrUnknownNode)
		}
	}
	return buildDAG(def.Nodes, def.Connections)
}

// buildDAG строит граф из уже проверенных соединений.
func buildDAG(nodes []domain.Node, conns []domain.Connection) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node, len(nodes)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	ordered := make([]*Node, 0, len(nodes))
	for i := range nodes {
		n := &Node{
			Def:        &nodes[i],
			ID:         nodes[i].ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
		if _, dup := dag.Nodes[n.ID]; dup {
			continue
		}
		dag.Nodes[n.ID] = n
		ordered = append(ordered, n)
	}

	// Второй проход: связываем узлы по соединениям
	for _, c := range conns {
		from, ok1 := dag.Nodes[c.Source]
		to, ok2 := dag.Nodes[c.Target]
		if !ok1 || !ok2 {
			continue
		}
		dag.addEdge(from, to, c.TargetPort)
	}

	for _, n := range ordered {
		n.sortInputs()
		if n.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, n)
		}
	}

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort(ordered)
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node, port string) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.ports = append(to.ports, port)
	to.InDegree++
}

// sortInputs упорядочивает предшественников по targetPort,
// если порт задан у каждого входящего соединения.
func (n *Node) sortInputs() {
	if len(n.DependsOn) < 2 {
		return
	}
	for _, p := range n.ports {
		if p == "" {
			return
		}
	}
	idx := make([]int, len(n.DependsOn))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return comparePorts(n.ports[idx[a]], n.ports[idx[b]]) < 0
	})
	deps := make([]*Node, len(idx))
	ports := make([]string, len(idx))
	for i, j := range idx {
		deps[i] = n.DependsOn[j]
		ports[i] = n.ports[j]
	}
	n.DependsOn, n.ports = deps, ports
}

// comparePorts сравнивает "input-2" и "input-10" с учётом числового суффикса.
func comparePorts(a, b string) int {
	pa, na := splitPort(a)
	pb, nb := splitPort(b)
	if pa != pb {
		return strings.Compare(pa, pb)
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}

func splitPort(p string) (string, int) {
	i := len(p)
	for i > 0 && p[i-1] >= '0' && p[i-1] <= '9' {
		i--
	}
	n := 0
	for _, r := range p[i:] {
		n = n*10 + int(r-'0')
	}
	return p[:i], n
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает *CycleError, если обнаружен цикл.
func (d *DAG) topologicalSort(ordered []*Node) ([]*Node, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	// Очередь узлов с inDegree = 0
	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.Nodes) {
		var stuck []string
		for _, n := range ordered {
			if inDegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, &CycleError{Nodes: stuck}
	}

	return order, nil
}

// Predecessors возвращает ID предшественников узла в порядке входов.
func (d *DAG) Predecessors(id string) []string {
	n, ok := d.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, len(n.DependsOn))
	for i, dep := range n.DependsOn {
		out[i] = dep.ID
	}
	return out
}

// Descendants возвращает всех потомков узла (транзитивно).
func (d *DAG) Descendants(id string) []string {
	n, ok := d.Nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	stack := append([]*Node(nil), n.Dependents...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur.ID] {
			continue
		}
		seen[cur.ID] = true
		out = append(out, cur.ID)
		stack = append(stack, cur.Dependents...)
	}
	return out
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}
