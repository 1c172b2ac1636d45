package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaError — одно нарушение JSON Schema.
type SchemaError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaValidator проверяет data узлов по JSON Schema executor'ов.
// Скомпилированные схемы кэшируются по имени ресурса.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator создаёт валидатор с пустым кэшем.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate проверяет value по схеме schemaJSON.
// name идентифицирует схему в кэше (обычно тип узла).
// Возвращает список нарушений; ошибка — только если сама схема некорректна.
func (v *SchemaValidator) Validate(name, schemaJSON string, value any) ([]SchemaError, error) {
	if strings.TrimSpace(schemaJSON) == "" {
		return nil, nil
	}
	schema, err := v.schema(name, schemaJSON)
	if err != nil {
		return nil, err
	}

	doc, err := normalize(value)
	if err != nil {
		return []SchemaError{{Path: "", Message: err.Error()}}, nil
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []SchemaError{{Path: "", Message: err.Error()}}, nil
	}
	return leafErrors(verr), nil
}

func (v *SchemaValidator) schema(name, schemaJSON string) (*jsonschema.Schema, error) {
	key := name + "\x00" + schemaJSON

	v.mu.RLock()
	s, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	url := "nodeflow://" + name + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	v.mu.Lock()
	v.compiled[key] = s
	v.mu.Unlock()
	return s, nil
}

// normalize приводит значение к виду, который даёт json.Unmarshal
// (map[string]any, []any, float64), — так его ожидает jsonschema.
func normalize(value any) (any, error) {
	if value == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return doc, nil
}

// leafErrors собирает нарушения из дерева причин.
func leafErrors(verr *jsonschema.ValidationError) []SchemaError {
	if len(verr.Causes) == 0 {
		return []SchemaError{{Path: verr.InstanceLocation, Message: verr.Message}}
	}
	var out []SchemaError
	for _, cause := range verr.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}
