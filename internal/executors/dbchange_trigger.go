package executors

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// TypeDatabaseChange — триггер изменений коллекции.
const TypeDatabaseChange = "database-change"

// Операции изменения.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeConfig — конфигурация триггера database-change.
type ChangeConfig struct {
	Collection   string   `json:"collection"`
	Operations   []string `json:"operations"`
	PollInterval int      `json:"pollInterval"`
}

// ChangeConfigFor декодирует конфигурацию узла database-change.
func ChangeConfigFor(node *domain.Node) (*ChangeConfig, error) {
	var cfg ChangeConfig
	if err := decodeConfig(node, changeMeta, &cfg); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, domain.ConfigError("", fmt.Errorf("%w: collection", ErrMissingField))
	}
	for i, op := range cfg.Operations {
		cfg.Operations[i] = strings.ToLower(op)
	}
	return &cfg, nil
}

// Matches проверяет событие {collection, operation, ...}.
func (c *ChangeConfig) Matches(event map[string]any) bool {
	coll, _ := event["collection"].(string)
	if coll != "" && coll != c.Collection {
		return false
	}
	if len(c.Operations) == 0 {
		return true
	}
	op, _ := event["operation"].(string)
	return slices.Contains(c.Operations, strings.ToLower(op))
}

var changeMeta = domain.ExecutorMetadata{
	Type:           TypeDatabaseChange,
	Category:       domain.CategoryTrigger,
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      0,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"operations": []any{OpInsert, OpUpdate, OpDelete}, "pollInterval": 5},
	Schema: `{
		"type": "object",
		"required": ["collection"],
		"properties": {
			"collection": {"type": "string", "minLength": 1},
			"operations": {"type": "array", "items": {"enum": ["insert", "update", "delete"]}},
			"pollInterval": {"type": "number", "minimum": 1}
		}
	}`,
}

// DatabaseChange — триггер database-change.
//
// События изменений приходят от поллера планировщика; узел оставляет
// только события своей коллекции и операций.
type DatabaseChange struct {
	base
}

// NewDatabaseChangeTrigger создаёт триггер database-change.
func NewDatabaseChangeTrigger() *DatabaseChange {
	return &DatabaseChange{base: base{meta: changeMeta}}
}

// Execute реализует Executor.
func (e *DatabaseChange) Execute(_ context.Context, nctx *NodeContext) *domain.NodeResult {
	cfg, err := ChangeConfigFor(nctx.Node)
	if err != nil {
		return domain.Failed(err, nil)
	}
	meta := map[string]any{"trigger": TypeDatabaseChange, "collection": cfg.Collection}

	if event, ok := nctx.Input.(map[string]any); ok {
		if !cfg.Matches(event) {
			meta["matched"] = 0
			return domain.Filtered(nil, meta)
		}
		meta["matched"] = 1
		return domain.Succeeded(event, meta)
	}

	items, _ := asSlice(nctx.Input)
	matched := make([]any, 0, len(items))
	for _, item := range items {
		if event, ok := item.(map[string]any); ok && cfg.Matches(event) {
			matched = append(matched, event)
		}
	}
	meta["matched"] = len(matched)
	if len(matched) == 0 {
		return domain.Filtered(matched, meta)
	}
	return domain.Succeeded(matched, meta)
}
