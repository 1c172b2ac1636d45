package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
)

// TypeForm — триггер отправки формы.
const TypeForm = "form"

// Типы полей формы.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldEmail    = "email"
	FieldNumber   = "number"
	FieldBoolean  = "boolean"
	FieldSelect   = "select"
	FieldDate     = "date"
)

// FormField — поле формы.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FormConfig — конфигурация триггера form.
type FormConfig struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	SubmitLabel string      `json:"submitLabel,omitempty"`
	Fields      []FormField `json:"fields"`
}

// FieldError — ошибка одного поля отправки.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FormConfigFor декодирует конфигурацию узла form.
func FormConfigFor(node *domain.Node) (*FormConfig, error) {
	var cfg FormConfig
	if err := decodeConfig(node, formMeta, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Fields) == 0 {
		return nil, domain.ConfigError("", fmt.Errorf("%w: fields", ErrMissingField))
	}
	for i := range cfg.Fields {
		if cfg.Fields[i].Type == "" {
			cfg.Fields[i].Type = FieldText
		}
	}
	return &cfg, nil
}

// Schema строит JSON Schema отправки по полям формы.
func (c *FormConfig) Schema() string {
	props := make(map[string]any, len(c.Fields))
	var required []string
	for _, f := range c.Fields {
		prop := map[string]any{}
		switch f.Type {
		case FieldNumber:
			prop["type"] = "number"
		case FieldBoolean:
			prop["type"] = "boolean"
		case FieldEmail:
			prop["type"] = "string"
			prop["format"] = "email"
		case FieldDate:
			prop["type"] = "string"
			prop["format"] = "date"
		case FieldSelect:
			prop["enum"] = f.Options
		default:
			prop["type"] = "string"
		}
		if f.Required && (f.Type != FieldSelect && f.Type != FieldNumber && f.Type != FieldBoolean) {
			prop["minLength"] = 1
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return string(raw)
}

// Coerce приводит значения формы (часто строки) к типам полей.
// Пустые строки необязательных полей отбрасываются.
func (c *FormConfig) Coerce(submission map[string]any) map[string]any {
	out := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		v, ok := submission[f.Name]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if isStr {
			s = strings.TrimSpace(s)
			if s == "" && !f.Required {
				continue
			}
			switch f.Type {
			case FieldNumber:
				if n, err := strconv.ParseFloat(s, 64); err == nil {
					v = n
				}
			case FieldBoolean:
				switch strings.ToLower(s) {
				case "true", "on", "yes", "1":
					v = true
				case "false", "off", "no", "0":
					v = false
				}
			default:
				v = s
			}
		}
		out[f.Name] = v
	}
	return out
}

// Validate приводит и проверяет отправку. Возвращает данные и
// ошибки полей (пусто — отправка корректна).
func (c *FormConfig) Validate(schemas *engine.SchemaValidator, formID string, submission map[string]any) (map[string]any, []FieldError, error) {
	data := c.Coerce(submission)
	violations, err := schemas.Validate("form-"+formID, c.Schema(), data)
	if err != nil {
		return nil, nil, err
	}
	var errs []FieldError
	for _, v := range violations {
		errs = append(errs, FieldError{Field: strings.TrimPrefix(v.Path, "/"), Message: v.Message})
	}
	return data, errs, nil
}

var formMeta = domain.ExecutorMetadata{
	Type:           TypeForm,
	Category:       domain.CategoryTrigger,
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      0,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"title": "Form", "submitLabel": "Submit"},
	Schema: `{
		"type": "object",
		"required": ["fields"],
		"properties": {
			"title": {"type": "string"},
			"fields": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"type": {"enum": ["text", "textarea", "email", "number", "boolean", "select", "date"]},
						"required": {"type": "boolean"},
						"options": {"type": "array", "items": {"type": "string"}}
					},
					"if": {"properties": {"type": {"const": "select"}}, "required": ["type"]},
					"then": {"required": ["options"]}
				}
			}
		}
	}`,
}

// Form — триггер form.
//
// Без входа возвращает описание формы; с отправкой на входе проверяет
// её по полям и возвращает приведённые значения.
type Form struct {
	base
	schemas *engine.SchemaValidator
}

// NewFormTrigger создаёт триггер form.
func NewFormTrigger() *Form {
	return &Form{base: base{meta: formMeta}, schemas: engine.NewSchemaValidator()}
}

// Execute реализует Executor.
func (e *Form) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	cfg, err := FormConfigFor(nctx.Node)
	if err != nil {
		return domain.Failed(err, nil)
	}
	meta := map[string]any{"trigger": TypeForm, "fields": len(cfg.Fields)}

	if nctx.Input == nil {
		return domain.Succeeded(cfg, meta)
	}
	submission, ok := nctx.Input.(map[string]any)
	if !ok {
		return execFailure(ctx, fmt.Errorf("form submission must be an object, got %T", nctx.Input), nil)
	}
	data, fieldErrs, err := cfg.Validate(e.schemas, nctx.Execution.WorkflowID+"-"+nctx.nodeID(), submission)
	if err != nil {
		return configFailure("form schema: %w", err)
	}
	if len(fieldErrs) > 0 {
		return execFailure(ctx, fmt.Errorf("form submission is invalid"), map[string]any{"fields": fieldErrs})
	}
	return domain.Succeeded(data, meta)
}
