package executors

import (
	"context"
	"fmt"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// TypeFilter — фильтр элементов.
const TypeFilter = "filter"

// Режимы фильтра.
const (
	FilterSimple   = "simple"
	FilterAdvanced = "advanced"
	FilterCustom   = "custom"
)

// FilterConfig — конфигурация filter.
//
//	{"mode": "simple", "logic": "and",
//	 "conditions": [{"field": "age", "operator": "greater_than", "value": 18}]}
//	{"mode": "advanced", "expression": "age > 18 && status == 'active'"}
//	{"mode": "custom", "code": "return wf.Num(wf.Get(item, \"age\")) > 18, nil"}
type FilterConfig struct {
	Mode       string      `json:"mode"`
	Logic      string      `json:"logic"`
	Conditions []Condition `json:"conditions"`
	Expression string      `json:"expression"`
	ScriptConfig
}

var filterMeta = domain.ExecutorMetadata{
	Type:           TypeFilter,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"mode": FilterSimple, "logic": "and"},
	Schema: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["simple", "advanced", "custom"]},
			"logic": {"enum": ["and", "or"]},
			"conditions": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["field", "operator"],
					"properties": {
						"field": {"type": "string", "minLength": 1},
						"operator": {"enum": ["equals", "not_equals", "contains", "not_contains", "starts_with", "ends_with",
							"greater_than", "less_than", "greater_equal", "less_equal", "in", "not_in",
							"is_empty", "is_not_empty", "is_null", "is_not_null", "regex"]},
						"caseSensitive": {"type": "boolean"}
					}
				}
			},
			"expression": {"type": "string"},
			"code": {"type": "string"},
			"libraries": {"type": "array", "items": {"type": "string"}},
			"timeout": {"type": "number", "minimum": 0}
		},
		"allOf": [
			{"if": {"properties": {"mode": {"const": "advanced"}}, "required": ["mode"]}, "then": {"required": ["expression"]}},
			{"if": {"properties": {"mode": {"const": "custom"}}, "required": ["mode"]}, "then": {"required": ["code"]}}
		]
	}`,
}

// Filter — executor filter.
//
// Массив фильтруется до подходящих элементов, объект сохраняется
// или заменяется на nil, скаляры проходят без изменений.
type Filter struct {
	base
	sandbox *sandbox.Runner
	exprs   *exprEvaluator
}

// NewFilter создаёт executor filter.
func NewFilter(runner *sandbox.Runner) *Filter {
	return &Filter{base: base{meta: filterMeta}, sandbox: runner, exprs: newExprEvaluator()}
}

// Execute реализует Executor.
func (e *Filter) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg FilterConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}

	items, isArray := asSlice(nctx.Input)
	if !isArray {
		if _, isObject := nctx.Input.(map[string]any); !isObject {
			return domain.Succeeded(nctx.Input, map[string]any{"passthrough": true, "mode": cfg.Mode})
		}
		items = []any{nctx.Input}
	}

	keep, res := e.match(ctx, nctx, &cfg, items)
	if res != nil {
		return res
	}

	kept := make([]any, 0, len(items))
	for i, item := range items {
		if keep[i] {
			kept = append(kept, item)
		}
	}
	meta := map[string]any{
		"mode":     cfg.Mode,
		"total":    len(items),
		"kept":     len(kept),
		"filtered": len(items) - len(kept),
	}

	if !isArray {
		if len(kept) == 0 {
			return domain.Succeeded(nil, meta)
		}
		return domain.Succeeded(kept[0], meta)
	}
	return domain.Succeeded(kept, meta)
}

// match вычисляет признак сохранения для каждого элемента.
func (e *Filter) match(ctx context.Context, nctx *NodeContext, cfg *FilterConfig, items []any) ([]bool, *domain.NodeResult) {
	keep := make([]bool, len(items))

	switch cfg.Mode {
	case FilterSimple:
		for i := range cfg.Conditions {
			if err := cfg.Conditions[i].validate(); err != nil {
				return nil, configFailure("filter condition %d: %w", i, err)
			}
		}
		for i, item := range items {
			ok, err := evalConditions(cfg.Conditions, cfg.Logic, item, nctx.ItemData(item, i))
			if err != nil {
				return nil, configFailure("filter: %w", err)
			}
			keep[i] = ok
		}

	case FilterAdvanced:
		prog, err := e.exprs.compile(cfg.Expression)
		if err != nil {
			return nil, configFailure("filter: %w", err)
		}
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, execFailure(ctx, err, nil)
			}
			out, err := e.exprs.evaluate(prog, nctx.ItemData(item, i))
			if err != nil {
				return nil, execFailure(ctx, fmt.Errorf("filter item %d: %w", i, err), map[string]any{"index": i})
			}
			keep[i] = truthy(out)
		}

	case FilterCustom:
		results, _, err := runBatch(ctx, nctx, e.sandbox, cfg.ScriptConfig, items)
		if err != nil {
			return nil, sandboxFailure(err, nil)
		}
		for i, out := range results {
			keep[i] = truthy(out)
		}

	default:
		return nil, configFailure("filter: %w: %q", ErrUnsupportedMode, cfg.Mode)
	}
	return keep, nil
}
