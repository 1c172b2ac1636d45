package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe находит {{path}} (пробелы внутри скобок допускаются).
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// exactRe совпадает с шаблоном, состоящим ровно из одного placeholder.
var exactRe = regexp.MustCompile(`^\s*\{\{\s*([^{}]*?)\s*\}\}\s*$`)

// Resolve подставляет значения из ctx во все {{path}} шаблона.
//
// Путь — сегменты через точку, каждый может иметь индексы: a.b[1].c.
// Ненайденные пути остаются в тексте как есть, чтобы частично
// применённый шаблон можно было осмотреть. Функция чистая и
// безопасна для конкурентного использования.
//
// Примеры:
//
//	Resolve("Hello {{user.name}}", {"user": {"name": "A"}})  → "Hello A"
//	Resolve("{{a.b[1]}}", {"a": {"b": [10, 20, 30]}})       → "20"
//	Resolve("{{missing}}", {})                              → "{{missing}}"
func Resolve(template string, ctx any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		if path == "" {
			return match
		}
		v, ok := LookupPath(ctx, path)
		if !ok {
			return match
		}
		return Stringify(v)
	})
}

// ResolveRaw работает как Resolve, но если шаблон ровно один placeholder
// ("{{input}}"), возвращает найденное значение без преобразования в строку.
// Так выходные узлы передают объект дальше нетронутым.
func ResolveRaw(template string, ctx any) any {
	if m := exactRe.FindStringSubmatch(template); m != nil && m[1] != "" {
		if v, ok := LookupPath(ctx, m[1]); ok {
			return v
		}
		return template
	}
	return Resolve(template, ctx)
}

// ResolveValue рекурсивно применяет ResolveRaw ко всем строкам
// внутри map/slice. Остальные значения возвращаются как есть.
func ResolveValue(v any, ctx any) any {
	switch val := v.(type) {
	case string:
		return ResolveRaw(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ResolveValue(item, ctx)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ResolveValue(item, ctx)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return v
	}
}

// HasPlaceholders проверяет, есть ли в строке {{...}}.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

// LookupPath ищет значение по пути в ctx.
//
// Поддерживаются map[string]any, map[string]string, срезы (через индекс
// в скобках или числовой сегмент) и произвольные map/slice через reflect.
func LookupPath(ctx any, path string) (any, bool) {
	segments, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	cur := ctx
	for _, seg := range segments {
		var found bool
		if seg.key != "" {
			cur, found = field(cur, seg.key)
		} else {
			cur, found = index(cur, seg.index)
		}
		if !found {
			return nil, false
		}
	}
	return cur, true
}

// segment — один шаг пути: ключ объекта или индекс массива.
type segment struct {
	key   string
	index int
}

// parsePath разбирает "a.b[1][0].c" в сегменты.
func parsePath(path string) ([]segment, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var out []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, false
		}
		name := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			name, rest = part[:i], part[i:]
		}
		if name != "" {
			out = append(out, segment{key: name, index: -1})
		}
		for rest != "" {
			if rest[0] != '[' {
				return nil, false
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, false
			}
			n, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
			if err != nil || n < 0 {
				return nil, false
			}
			out = append(out, segment{index: n})
			rest = rest[end+1:]
		}
	}
	return out, len(out) > 0
}

func field(cur any, key string) (any, bool) {
	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	case nil:
		return nil, false
	}
	// Числовой сегмент в массиве: items.0.name
	if n, err := strconv.Atoi(key); err == nil && n >= 0 {
		if v, ok := index(cur, n); ok {
			return v, true
		}
	}
	rv := reflect.ValueOf(cur)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		f := rv.FieldByName(key)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return f.Interface(), true
	}
	return nil, false
}

func index(cur any, n int) (any, bool) {
	if arr, ok := cur.([]any); ok {
		if n < len(arr) {
			return arr[n], true
		}
		return nil, false
	}
	rv := reflect.ValueOf(cur)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if n >= rv.Len() {
		return nil, false
	}
	return rv.Index(n).Interface(), true
}

// Stringify превращает значение в строку для подстановки в шаблон.
//
// Строки — как есть, nil — "null", целые float64 — без дробной части,
// объекты и массивы — компактный JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
