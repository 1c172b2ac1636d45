package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// TypeMerge — объединение выходов нескольких предшественников.
const TypeMerge = "merge"

// Режимы merge.
const (
	MergeObject = "object"
	MergeArray  = "array"
	MergeConcat = "concat"
	MergeJoin   = "join"
	MergeCustom = "custom"
)

// Стратегии объединения объектов.
const (
	StrategyShallow  = "shallow"
	StrategyDeep     = "deep"
	StrategyLastWins = "lastWins"
	StrategyMapping  = "mapping"
)

// Стратегии объединения массивов.
const (
	ArrayConcat  = "concat"
	ArrayByIndex = "byIndex"
	ArrayReplace = "replace"
	ArrayDedupe  = "dedupe"
)

// MergeConfig — конфигурация merge.
//
//	{"mode": "object", "strategy": "deep"}
//	{"mode": "object", "strategy": "mapping", "mapping": {"0": "user", "1": "orders"}}
//	{"mode": "array", "arrayStrategy": "byIndex"}
//	{"mode": "join", "separator": "\n", "prefix": "[", "suffix": "]"}
type MergeConfig struct {
	Mode              string            `json:"mode"`
	Strategy          string            `json:"strategy"`
	Mapping           map[string]string `json:"mapping"`
	ArrayStrategy     string            `json:"arrayStrategy"`
	Separator         string            `json:"separator"`
	Prefix            string            `json:"prefix"`
	Suffix            string            `json:"suffix"`
	SkipEmpty         bool              `json:"skipEmpty"`
	Dedupe            bool              `json:"dedupe"`
	SkipMissingInputs bool              `json:"skipMissingInputs"`
	ScriptConfig
}

var mergeMeta = domain.ExecutorMetadata{
	Type:           TypeMerge,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      domain.Unlimited,
	MaxOutputs:     domain.Unlimited,
	MultiInput:     true,
	DefaultData: map[string]any{
		"mode":          MergeObject,
		"strategy":      StrategyShallow,
		"arrayStrategy": ArrayConcat,
		"separator":     ",",
	},
	Schema: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["object", "array", "concat", "join", "custom"]},
			"strategy": {"enum": ["shallow", "deep", "lastWins", "mapping"]},
			"mapping": {"type": "object", "additionalProperties": {"type": "string"}},
			"arrayStrategy": {"enum": ["concat", "byIndex", "replace", "dedupe"]},
			"separator": {"type": "string"},
			"skipEmpty": {"type": "boolean"},
			"dedupe": {"type": "boolean"},
			"skipMissingInputs": {"type": "boolean"}
		},
		"allOf": [
			{"if": {"properties": {"strategy": {"const": "mapping"}}, "required": ["strategy"]}, "then": {"required": ["mapping"]}},
			{"if": {"properties": {"mode": {"const": "custom"}}, "required": ["mode"]}, "then": {"required": ["code"]}}
		]
	}`,
}

// Merge — executor merge. Единственный встроенный executor,
// читающий NodeContext.Inputs.
type Merge struct {
	base
	sandbox *sandbox.Runner
}

// NewMerge создаёт executor merge.
func NewMerge(runner *sandbox.Runner) *Merge {
	return &Merge{base: base{meta: mergeMeta}, sandbox: runner}
}

// AllowsMissingInputs сообщает движку, что узел можно запустить,
// даже если часть предшественников не завершилась успешно
// (их входы будут nil).
func (e *Merge) AllowsMissingInputs(node *domain.Node) bool {
	var cfg MergeConfig
	if err := decodeConfig(node, e.meta, &cfg); err != nil {
		return false
	}
	return cfg.SkipMissingInputs
}

// Execute реализует Executor.
func (e *Merge) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg MergeConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}

	inputs := make([]any, 0, len(nctx.Inputs))
	for _, in := range nctx.Inputs {
		if cfg.SkipEmpty && isEmpty(in) {
			continue
		}
		inputs = append(inputs, in)
	}
	meta := map[string]any{"mode": cfg.Mode, "inputs": len(nctx.Inputs), "merged": len(inputs)}

	var (
		out any
		err error
	)
	switch cfg.Mode {
	case MergeObject:
		out, err = mergeObjects(inputs, &cfg)
	case MergeArray, MergeConcat:
		strategy := cfg.ArrayStrategy
		if cfg.Mode == MergeConcat {
			strategy = ArrayConcat
		}
		out, err = mergeArrays(inputs, strategy)
	case MergeJoin:
		parts := make([]string, len(inputs))
		for i, in := range inputs {
			parts[i] = engine.Stringify(in)
		}
		out = cfg.Prefix + strings.Join(parts, unescape(cfg.Separator)) + cfg.Suffix
	case MergeCustom:
		if e.sandbox == nil {
			return sandboxFailure(ErrNoSandbox, nil)
		}
		value, _, runErr := e.sandbox.Call(ctx, cfg.script(nctx, "inputs", "context", sandbox.ParamConsole), inputs, nctx.info())
		if runErr != nil {
			return sandboxFailure(runErr, nil)
		}
		out = value
	default:
		return configFailure("merge: %w: %q", ErrUnsupportedMode, cfg.Mode)
	}
	if err != nil {
		return domain.Failed(err, nil)
	}

	if cfg.Dedupe {
		if items, ok := out.([]any); ok {
			out = dedupe(items)
		}
	}
	return domain.Succeeded(out, meta)
}

// mergeObjects объединяет объекты по стратегии. Один вход возвращается
// без изменений.
func mergeObjects(inputs []any, cfg *MergeConfig) (any, error) {
	if cfg.Strategy == StrategyMapping {
		out := make(map[string]any, len(cfg.Mapping))
		for idx, key := range cfg.Mapping {
			i, err := strconv.Atoi(idx)
			if err != nil || i < 0 {
				return nil, domain.ConfigError("", fmt.Errorf("merge mapping index %q is not a number", idx))
			}
			if i < len(inputs) {
				out[key] = inputs[i]
			} else {
				out[key] = nil
			}
		}
		return out, nil
	}

	if len(inputs) == 0 {
		return map[string]any{}, nil
	}
	if len(inputs) == 1 {
		return inputs[0], nil
	}

	if cfg.Strategy == StrategyLastWins {
		for i := len(inputs) - 1; i >= 0; i-- {
			if inputs[i] != nil {
				return inputs[i], nil
			}
		}
		return nil, nil
	}

	out := make(map[string]any)
	for i, in := range inputs {
		obj, err := asObject(in)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			if in != nil {
				out["input"+strconv.Itoa(i)] = in
			}
			continue
		}
		switch cfg.Strategy {
		case StrategyDeep:
			if err := mergo.Merge(&out, cloneValue(obj).(map[string]any), mergo.WithOverride); err != nil {
				return nil, domain.ExecError("deep merge", err)
			}
		case StrategyShallow:
			for k, v := range obj {
				out[k] = v
			}
		default:
			return nil, domain.ConfigError("", fmt.Errorf("%w: strategy %q", ErrUnsupportedMode, cfg.Strategy))
		}
	}
	return out, nil
}

// asObject возвращает вход как объект. Строка, похожая на JSON-объект,
// разбирается; некорректный JSON — ошибка конфигурации.
func asObject(in any) (map[string]any, error) {
	switch v := in.(type) {
	case map[string]any:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, nil
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, domain.ConfigError("merge input is malformed JSON", err)
		}
		return obj, nil
	}
	return nil, nil
}

// mergeArrays объединяет входы как массивы.
func mergeArrays(inputs []any, strategy string) (any, error) {
	arrays := make([][]any, len(inputs))
	for i, in := range inputs {
		if items, ok := asSlice(in); ok {
			arrays[i] = items
		} else if in != nil {
			arrays[i] = []any{in}
		}
	}

	switch strategy {
	case ArrayConcat, ArrayDedupe:
		out := make([]any, 0)
		for _, a := range arrays {
			out = append(out, a...)
		}
		if strategy == ArrayDedupe {
			out = dedupe(out)
		}
		return out, nil
	case ArrayReplace:
		for i := len(arrays) - 1; i >= 0; i-- {
			if arrays[i] != nil {
				return arrays[i], nil
			}
		}
		return []any{}, nil
	case ArrayByIndex:
		n := 0
		for _, a := range arrays {
			n = max(n, len(a))
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			merged := make(map[string]any)
			var scalars []any
			for _, a := range arrays {
				if i >= len(a) {
					continue
				}
				if obj, ok := a[i].(map[string]any); ok {
					for k, v := range obj {
						merged[k] = v
					}
				} else {
					scalars = append(scalars, a[i])
				}
			}
			if len(scalars) > 0 && len(merged) == 0 {
				out[i] = scalars
			} else {
				if len(scalars) > 0 {
					merged["values"] = scalars
				}
				out[i] = merged
			}
		}
		return out, nil
	}
	return nil, domain.ConfigError("", fmt.Errorf("%w: array strategy %q", ErrUnsupportedMode, strategy))
}

// dedupe удаляет повторы по JSON-представлению, сохраняя порядок.
func dedupe(items []any) []any {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		key := canonicalKey(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// canonicalKey — JSON с отсортированными ключами (encoding/json сортирует ключи map).
func canonicalKey(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// unescape обрабатывает "\n" и "\t", введённые как текст.
func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(s)
}
