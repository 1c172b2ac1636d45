package executors

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shaiso/Nodeflow/internal/engine"
)

// Преобразования значений map/fields.
const (
	TransformUppercase    = "uppercase"
	TransformLowercase    = "lowercase"
	TransformCapitalize   = "capitalize"
	TransformTrim         = "trim"
	TransformNumber       = "number"
	TransformBoolean      = "boolean"
	TransformString       = "string"
	TransformDate         = "date"
	TransformJSON         = "json"
	TransformStringify    = "stringify"
	TransformBase64       = "base64"
	TransformBase64Decode = "base64decode"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"02.01.2006",
	"01/02/2006",
}

// applyTransform применяет преобразование к значению. nil остаётся nil.
func applyTransform(name string, v any) (any, error) {
	if name == "" || v == nil {
		return v, nil
	}
	switch name {
	case TransformUppercase:
		return strings.ToUpper(engine.Stringify(v)), nil
	case TransformLowercase:
		return strings.ToLower(engine.Stringify(v)), nil
	case TransformCapitalize:
		return capitalize(engine.Stringify(v)), nil
	case TransformTrim:
		return strings.TrimSpace(engine.Stringify(v)), nil
	case TransformString:
		return engine.Stringify(v), nil
	case TransformNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %q to number", engine.Stringify(v))
		}
		return f, nil
	case TransformBoolean:
		return toBool(v), nil
	case TransformDate:
		return toDate(v)
	case TransformJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return out, nil
	case TransformStringify:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("stringify: %w", err)
		}
		return string(raw), nil
	case TransformBase64:
		return base64.StdEncoding.EncodeToString([]byte(engine.Stringify(v))), nil
	case TransformBase64Decode:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(engine.Stringify(v)))
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		return string(raw), nil
	}
	return nil, fmt.Errorf("%w: transform %q", ErrUnsupportedMode, name)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "", "false", "0", "no", "off", "null":
			return false
		}
		return true
	}
	return truthy(v)
}

// toDate приводит строку или unix-время (секунды) к RFC3339 в UTC.
func toDate(v any) (any, error) {
	if f, ok := v.(float64); ok {
		sec := int64(f)
		return time.Unix(sec, 0).UTC().Format(time.RFC3339), nil
	}
	s := strings.TrimSpace(engine.Stringify(v))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC().Format(time.RFC3339), nil
	}
	return nil, fmt.Errorf("cannot parse date %q", s)
}

// setPath записывает значение по пути "a.b.c", создавая промежуточные объекты.
func setPath(dst map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
