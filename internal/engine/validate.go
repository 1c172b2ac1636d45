package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Catalog — источник метаданных executor'ов (реализуется реестром executors).
type Catalog interface {
	Metadata(nodeType string) (domain.ExecutorMetadata, bool)
}

// Validator проверяет WorkflowDefinition до старта run.
type Validator struct {
	catalog Catalog
	schemas *SchemaValidator
}

// NewValidator создаёт Validator поверх каталога executor'ов.
func NewValidator(catalog Catalog) *Validator {
	return &Validator{
		catalog: catalog,
		schemas: NewSchemaValidator(),
	}
}

// Validate выполняет полную валидацию графа.
//
// Проверяет (каждое нарушение — отдельная ошибка, без остановки на первой):
// - Наличие узлов, непустые и уникальные ID
// - Зарегистрированность типов
// - data узла по JSON Schema executor'а
// - Ссылки соединений на существующие узлы, отсутствие петель и дублей
// - maxInputs/maxOutputs и совместимость возможностей
// - Отсутствие циклов
//
// Функция чистая: определение не изменяется.
func (v *Validator) Validate(def *domain.WorkflowDefinition) *ValidationResult {
	res := &ValidationResult{IsValid: true}
	if def == nil || len(def.Nodes) == 0 {
		res.add("", "nodes", "workflow has no nodes", ErrEmptyGraph)
		return res
	}

	meta := make(map[string]domain.ExecutorMetadata, len(def.Nodes))
	seen := make(map[string]bool, len(def.Nodes))

	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if node.ID == "" {
			res.add("", path+".id", "node id is required", ErrEmptyNodeID)
		} else if seen[node.ID] {
			res.add(node.ID, path+".id", fmt.Sprintf("duplicate node id %q", node.ID), ErrDuplicateNodeID)
		} else {
			seen[node.ID] = true
		}

		m, ok := v.lookup(node.Type)
		if !ok {
			res.add(node.ID, path+".type", fmt.Sprintf("no executor registered for type %q", node.Type), ErrUnknownNodeType)
			continue
		}
		if node.ID != "" {
			meta[node.ID] = m
		}
		v.validateData(res, node, path, m)
	}

	valid := v.validateConnections(res, def, seen)
	v.validateCardinality(res, def, meta)

	// Цикл проверяем на соединениях, прошедших проверку ссылок
	if _, err := buildDAG(def.Nodes, valid); err != nil {
		var cyc *CycleError
		if errors.As(err, &cyc) {
			res.add("", "connections", cyc.Error(), ErrCyclicDependency)
		} else {
			res.add("", "connections", err.Error(), err)
		}
	}

	return res
}

// Catalog возвращает каталог executor'ов валидатора.
func (v *Validator) Catalog() Catalog {
	return v.catalog
}

func (v *Validator) lookup(nodeType string) (domain.ExecutorMetadata, bool) {
	if nodeType == "" || v.catalog == nil {
		return domain.ExecutorMetadata{}, false
	}
	return v.catalog.Metadata(nodeType)
}

// validateData проверяет data узла по JSON Schema executor'а.
func (v *Validator) validateData(res *ValidationResult, node *domain.Node, path string, m domain.ExecutorMetadata) {
	if m.Schema == "" {
		return
	}
	violations, err := v.schemas.Validate(m.Type, m.Schema, node.Data)
	if err != nil {
		res.add(node.ID, path+".data", fmt.Sprintf("executor schema is broken: %v", err), ErrInvalidNodeData)
		return
	}
	for _, viol := range violations {
		res.add(node.ID, path+".data"+viol.Path, viol.Message, ErrInvalidNodeData)
	}
}

// validateConnections проверяет ссылки и возвращает корректные соединения.
func (v *Validator) validateConnections(res *ValidationResult, def *domain.WorkflowDefinition, ids map[string]bool) []domain.Connection {
	valid := make([]domain.Connection, 0, len(def.Connections))
	pairs := make(map[[2]string]bool, len(def.Connections))

	for i, c := range def.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		ok := true
		if !ids[c.Source] {
			res.add(c.Source, path+".source", fmt.Sprintf("unknown node %q", c.Source), ErrUnknownNode)
			ok = false
		}
		if !ids[c.Target] {
			res.add(c.Target, path+".target", fmt.Sprintf("unknown node %q", c.Target), ErrUnknownNode)
			ok = false
		}
		if !ok {
			continue
		}
		if c.Source == c.Target {
			res.add(c.Source, path, fmt.Sprintf("node %q is connected to itself", c.Source), ErrSelfConnection)
			continue
		}
		key := [2]string{c.Source, c.Target}
		if pairs[key] {
			res.add(c.Target, path, fmt.Sprintf("duplicate connection %s -> %s", c.Source, c.Target), ErrDuplicateConnection)
			continue
		}
		pairs[key] = true
		valid = append(valid, c)
	}
	return valid
}

// validateCardinality проверяет maxInputs/maxOutputs и совместимость возможностей.
func (v *Validator) validateCardinality(res *ValidationResult, def *domain.WorkflowDefinition, meta map[string]domain.ExecutorMetadata) {
	in := make(map[string]int)
	out := make(map[string]int)
	for i, c := range def.Connections {
		src, okSrc := meta[c.Source]
		dst, okDst := meta[c.Target]
		if okSrc && okDst && !dst.Accepts(src.AllowedOutputs) {
			res.add(c.Target, fmt.Sprintf("connections[%d]", i),
				fmt.Sprintf("%s output is not accepted by %s", src.Type, dst.Type), ErrIncompatibleConnection)
		}
		out[c.Source]++
		in[c.Target]++
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		m, ok := meta[node.ID]
		if !ok {
			continue
		}
		path := fmt.Sprintf("nodes[%d]", i)
		if exceeds(in[node.ID], m.MaxInputs) {
			res.add(node.ID, path, fmt.Sprintf("%s accepts at most %d inputs, has %d", m.Type, m.MaxInputs, in[node.ID]), ErrTooManyInputs)
		}
		if exceeds(out[node.ID], m.MaxOutputs) {
			res.add(node.ID, path, fmt.Sprintf("%s allows at most %d outputs, has %d", m.Type, m.MaxOutputs, out[node.ID]), ErrTooManyOutputs)
		}
	}
}

func exceeds(count, limit int) bool {
	return limit != domain.Unlimited && count > limit
}
