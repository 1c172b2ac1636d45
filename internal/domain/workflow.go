package domain

import "time"

// WorkflowDefinition — снимок графа workflow, который исполняет движок.
//
// Определение создаётся и изменяется только редактором (внешним слоем).
// Движок получает его как read-only вход и никогда не модифицирует.
type WorkflowDefinition struct {
	// ID — идентификатор workflow во внешнем хранилище.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя workflow.
	Name string `json:"name" yaml:"name"`

	// Nodes — узлы графа (триггеры, трансформации, выходы).
	Nodes []Node `json:"nodes" yaml:"nodes"`

	// Connections — направленные рёбра между узлами.
	Connections []Connection `json:"connections" yaml:"connections"`

	// Settings — настройки выполнения.
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Node — один шаг графа.
type Node struct {
	// ID — уникальный в пределах графа идентификатор.
	ID string `json:"id" yaml:"id"`

	// Type — ключ в реестре executors ("filter", "webhook-output", ...).
	Type string `json:"type" yaml:"type"`

	// Data — конфигурация, специфичная для типа узла.
	// Проверяется по JSON Schema executor'а до старта run.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`

	// Label — подпись узла в редакторе.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Connection — ребро от выхода одного узла ко входу другого.
type Connection struct {
	ID         string `json:"id" yaml:"id"`
	Source     string `json:"source" yaml:"source"`
	Target     string `json:"target" yaml:"target"`
	SourcePort string `json:"sourcePort,omitempty" yaml:"sourcePort,omitempty"`
	TargetPort string `json:"targetPort,omitempty" yaml:"targetPort,omitempty"`
}

// Settings — настройки выполнения workflow.
type Settings struct {
	// Environment — имя окружения ("production", "staging").
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// TimeoutSec — ограничение на весь run (0 = без ограничения).
	TimeoutSec int `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`

	// NodeTimeoutSec — ограничение на одну попытку узла (0 = без ограничения).
	NodeTimeoutSec int `json:"nodeTimeoutSec,omitempty" yaml:"nodeTimeoutSec,omitempty"`

	// MaxConcurrency — максимум одновременно выполняемых узлов.
	MaxConcurrency int `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
}

// Timeout возвращает ограничение на run.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// NodeTimeout возвращает ограничение на одну попытку узла.
func (s Settings) NodeTimeout() time.Duration {
	return time.Duration(s.NodeTimeoutSec) * time.Second
}

// NodeByID возвращает узел по ID.
func (d *WorkflowDefinition) NodeByID(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Incoming возвращает входящие соединения узла в порядке объявления.
func (d *WorkflowDefinition) Incoming(nodeID string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.Target == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Outgoing возвращает исходящие соединения узла в порядке объявления.
func (d *WorkflowDefinition) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.Source == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// NodesOfType возвращает узлы заданного типа.
func (d *WorkflowDefinition) NodesOfType(nodeType string) []Node {
	var out []Node
	for _, n := range d.Nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}
