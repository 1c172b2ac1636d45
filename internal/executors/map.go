package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// TypeMap — преобразование элементов.
const TypeMap = "map"

// Режимы map.
const (
	MapTemplate = "template"
	MapFields   = "fields"
	MapCustom   = "custom"
)

// FieldMapping — одно поле режима fields.
type FieldMapping struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Transform    string `json:"transform"`
	DefaultValue any    `json:"defaultValue"`
}

// MapConfig — конфигурация map.
//
//	{"mode": "template", "template": {"id": "{{id}}", "title": "{{name}} ({{index}})"}}
//	{"mode": "fields", "fields": [{"source": "user.email", "target": "email", "transform": "lowercase"}]}
type MapConfig struct {
	Mode             string         `json:"mode"`
	Template         any            `json:"template"`
	Fields           []FieldMapping `json:"fields"`
	PreserveOriginal bool           `json:"preserveOriginal"`
	SkipNull         bool           `json:"skipNull"`
	FlattenResult    bool           `json:"flattenResult"`
	ScriptConfig
}

var mapMeta = domain.ExecutorMetadata{
	Type:           TypeMap,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"mode": MapFields},
	Schema: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["template", "fields", "custom"]},
			"fields": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["target"],
					"properties": {
						"source": {"type": "string"},
						"target": {"type": "string", "minLength": 1},
						"transform": {"enum": ["", "uppercase", "lowercase", "capitalize", "trim", "number", "boolean",
							"string", "date", "json", "stringify", "base64", "base64decode"]}
					}
				}
			},
			"preserveOriginal": {"type": "boolean"},
			"skipNull": {"type": "boolean"},
			"flattenResult": {"type": "boolean"},
			"code": {"type": "string"}
		},
		"allOf": [
			{"if": {"properties": {"mode": {"const": "template"}}, "required": ["mode"]}, "then": {"required": ["template"]}},
			{"if": {"properties": {"mode": {"const": "custom"}}, "required": ["mode"]}, "then": {"required": ["code"]}}
		]
	}`,
}

// Map — executor map.
//
// Массив преобразуется поэлементно (длина сохраняется без flattenResult),
// объект — один раз, скаляры проходят без изменений.
type Map struct {
	base
	sandbox *sandbox.Runner
}

// NewMap создаёт executor map.
func NewMap(runner *sandbox.Runner) *Map {
	return &Map{base: base{meta: mapMeta}, sandbox: runner}
}

// Execute реализует Executor.
func (e *Map) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg MapConfig
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

	var (
		out []any
		res *domain.NodeResult
	)
	switch cfg.Mode {
	case MapTemplate:
		out, res = e.template(nctx, &cfg, items)
	case MapFields:
		out, res = e.fields(ctx, nctx, &cfg, items)
	case MapCustom:
		results, _, err := runBatch(ctx, nctx, e.sandbox, cfg.ScriptConfig, items)
		if err != nil {
			return sandboxFailure(err, nil)
		}
		out = results
	default:
		return configFailure("map: %w: %q", ErrUnsupportedMode, cfg.Mode)
	}
	if res != nil {
		return res
	}

	meta := map[string]any{"mode": cfg.Mode, "count": len(items)}
	if !isArray {
		return domain.Succeeded(out[0], meta)
	}
	if cfg.FlattenResult {
		out = flatten(out)
		meta["flattened"] = len(out)
	}
	return domain.Succeeded(out, meta)
}

func (e *Map) template(nctx *NodeContext, cfg *MapConfig, items []any) ([]any, *domain.NodeResult) {
	tmpl := cfg.Template
	// Строка с JSON — объектный шаблон
	if s, ok := tmpl.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var parsed any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
				return nil, configFailure("map: template is not valid JSON: %w", err)
			}
			tmpl = parsed
		}
	}

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = engine.ResolveValue(tmpl, nctx.ItemData(item, i))
	}
	return out, nil
}

func (e *Map) fields(ctx context.Context, nctx *NodeContext, cfg *MapConfig, items []any) ([]any, *domain.NodeResult) {
	out := make([]any, len(items))
	for i, item := range items {
		var dst map[string]any
		if src, ok := item.(map[string]any); ok && cfg.PreserveOriginal {
			dst = cloneValue(src).(map[string]any)
		} else {
			dst = make(map[string]any, len(cfg.Fields))
		}

		for _, f := range cfg.Fields {
			var v any
			found := false
			if f.Source != "" {
				v, found = engine.LookupPath(item, f.Source)
			}
			if !found || v == nil {
				v = f.DefaultValue
				if s, ok := v.(string); ok {
					v = engine.ResolveRaw(s, nctx.ItemData(item, i))
				}
			}
			tv, err := applyTransform(f.Transform, v)
			if errors.Is(err, ErrUnsupportedMode) {
				return nil, configFailure("map field %q: %w", f.Target, err)
			}
			if err != nil {
				return nil, execFailure(ctx, fmt.Errorf("map field %q: %w", f.Target, err),
					map[string]any{"index": i, "field": f.Target})
			}
			if tv == nil && cfg.SkipNull {
				continue
			}
			setPath(dst, f.Target, tv)
		}
		out[i] = dst
	}
	return out, nil
}

// flatten раскрывает массивы-результаты на один уровень.
func flatten(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := asSlice(item); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, item)
	}
	return out
}
