package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// LoadDefinition читает WorkflowDefinition из JSON- или YAML-файла.
func LoadDefinition(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition разбирает определение. JSON — частный случай YAML,
// поэтому документ сначала читается через yaml.v3, а затем приводится
// к JSON, чтобы сработали json-теги domain.
func ParseDefinition(data []byte) (*domain.WorkflowDefinition, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	var def domain.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("definition has no id")
	}
	return &def, nil
}

// ParsePayload разбирает payload из аргумента командной строки.
// "@file" читает файл. Пустая строка даёт nil, текст, не являющийся
// YAML-документом, передаётся как строка.
func ParsePayload(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	data := []byte(s)
	if strings.HasPrefix(s, "@") {
		b, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = b
	}
	v, err := decodeDocument(data)
	if err != nil {
		return s, nil
	}
	return v, nil
}

// decodeDocument читает YAML и нормализует map[string]interface{}
// с не-строковыми ключами, которые encoding/json не умеет кодировать.
func decodeDocument(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return normalizeYAML(doc), nil
}

func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	}
	return v
}
