package executors

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// decodeConfig декодирует data узла в типизированную структуру out.
// DefaultData executor'а заполняет отсутствующие ключи.
func decodeConfig(node *domain.Node, meta domain.ExecutorMetadata, out any) error {
	data, err := cloneMap(nodeData(node))
	if err != nil {
		return domain.ConfigError("invalid node data", err)
	}
	defaults, err := cloneMap(meta.DefaultData)
	if err != nil {
		return domain.ConfigError("invalid default data", err)
	}
	if err := mergo.Merge(&data, defaults, mergo.WithoutDereference); err != nil {
		return domain.ConfigError("apply defaults", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return domain.ConfigError("encode node data", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.ConfigError(fmt.Sprintf("decode %s config", meta.Type), err)
	}
	return nil
}

func nodeData(node *domain.Node) map[string]any {
	if node == nil {
		return nil
	}
	return node.Data
}

// cloneMap возвращает глубокую копию через JSON.
func cloneMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if len(m) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneValue возвращает глубокую копию JSON-совместимого значения.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// toFloat приводит значение к числу.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// asSlice возвращает элементы массива; ok=false для не-массивов.
func asSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// isEmpty: nil, "", пустой массив или объект.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// truthy — истинность значения, возвращённого выражением или кодом.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// stringList приводит строку ("a, b") или массив к списку строк.
func stringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return val
	}
	items, ok := asSlice(v)
	if !ok {
		return []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, stringList(item)...)
	}
	return out
}
