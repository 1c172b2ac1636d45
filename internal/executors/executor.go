package executors

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/services"
)

// Executor — реализация типа узла.
//
// Execute не должен паниковать и не должен менять общее состояние движка.
// Ошибки возвращаются как NodeResult с Success=false.
type Executor interface {
	// Type возвращает тип узла.
	Type() string

	// Metadata возвращает статическое описание типа.
	Metadata() domain.ExecutorMetadata

	// Execute выполняет узел. Executor должен соблюдать ctx.Done().
	Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult
}

// ExecutionInfo — идентификаторы текущего run.
type ExecutionInfo struct {
	WorkflowID  string
	ExecutionID string
	Environment string
	StartedAt   time.Time
}

// NodeContext — данные, доступные executor'у.
type NodeContext struct {
	// Execution — идентификаторы run.
	Execution ExecutionInfo

	// Node — определение узла.
	Node *domain.Node

	// Input — данные единственного предшественника (или payload триггера).
	Input any

	// Inputs — данные всех предшественников по порядку.
	// Заполняется только для executor'ов с MultiInput.
	Inputs []any

	// Services — общие сервисы (только чтение).
	Services *services.Bundle

	// Env — переменные окружения workflow, доступные шаблонам как {{env.NAME}}.
	Env map[string]string

	// Logger — логгер узла.
	Logger *slog.Logger
}

// log возвращает логгер узла, никогда не nil.
func (c *NodeContext) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// nodeID возвращает ID узла.
func (c *NodeContext) nodeID() string {
	if c.Node == nil {
		return ""
	}
	return c.Node.ID
}

// TemplateData возвращает контекст подстановки шаблонов:
//
//	{{input.x}}  {{inputs[0]}}  {{env.NAME}}  {{node.id}}
//	{{workflow.id}}  {{execution.id}}  {{execution.environment}}
func (c *NodeContext) TemplateData() map[string]any {
	node := map[string]any{}
	if c.Node != nil {
		node = map[string]any{"id": c.Node.ID, "type": c.Node.Type, "label": c.Node.Label}
	}
	env := make(map[string]any, len(c.Env))
	for k, v := range c.Env {
		env[k] = v
	}
	inputs := make([]any, len(c.Inputs))
	copy(inputs, c.Inputs)

	return map[string]any{
		"input":    c.Input,
		"inputs":   inputs,
		"env":      env,
		"node":     node,
		"workflow": map[string]any{"id": c.Execution.WorkflowID},
		"execution": map[string]any{
			"id":          c.Execution.ExecutionID,
			"environment": c.Execution.Environment,
			"startedAt":   c.Execution.StartedAt.UTC().Format(time.RFC3339),
		},
	}
}

// itemReservedKeys — ключи контекста элемента, которые не перекрываются
// полями элемента.
var itemReservedKeys = map[string]bool{
	"input": true, "inputs": true, "env": true, "node": true,
	"workflow": true, "execution": true, "item": true, "index": true,
}

// ItemData — контекст шаблона для одного элемента массива.
//
// Поля элемента-объекта доступны напрямую ({{name}}), кроме полей с именами
// из itemReservedKeys: {{node}} всегда означает узел, а поле элемента "node"
// доступно как {{item.node}}. {{item}} и {{input}} — сам элемент,
// {{index}} — его номер.
func (c *NodeContext) ItemData(item any, index int) map[string]any {
	data := c.TemplateData()
	data["item"] = item
	data["index"] = index
	data["input"] = item
	if m, ok := item.(map[string]any); ok {
		for k, v := range m {
			if !itemReservedKeys[k] {
				data[k] = v
			}
		}
	}
	return data
}

// info возвращает context-binding для кода узла.
func (c *NodeContext) info() map[string]any {
	data := c.TemplateData()
	return map[string]any{
		"workflowId":  c.Execution.WorkflowID,
		"executionId": c.Execution.ExecutionID,
		"environment": c.Execution.Environment,
		"node":        data["node"],
		"env":         data["env"],
	}
}

// base реализует Type и Metadata для встроенных executor'ов.
type base struct {
	meta domain.ExecutorMetadata
}

// Type возвращает тип узла.
func (b base) Type() string {
	return b.meta.Type
}

// Metadata возвращает статическое описание типа.
func (b base) Metadata() domain.ExecutorMetadata {
	return b.meta
}
