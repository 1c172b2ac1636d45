package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeDatabase — запись в документное хранилище.
const TypeDatabase = "database"

// Операции database.
const (
	DBInsert = "insert"
	DBUpdate = "update"
	DBUpsert = "upsert"
	DBDelete = "delete"
)

// DatabaseConfig — конфигурация database.
//
//	{
//	    "store": "postgres",
//	    "collection": "orders",
//	    "operation": "upsert",
//	    "document": "{{input}}",
//	    "filter": {"id": "{{input.id}}"}
//	}
//
// Массив на входе обрабатывается поэлементно: шаблоны document и filter
// разрешаются для каждого элемента.
type DatabaseConfig struct {
	Store      string         `json:"store"`
	Collection string         `json:"collection"`
	Operation  string         `json:"operation"`
	Document   any            `json:"document"`
	Filter     map[string]any `json:"filter"`
}

var databaseMeta = domain.ExecutorMetadata{
	Type:           TypeDatabase,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	RequiresAuth:   true,
	DefaultData: map[string]any{
		"store":      "postgres",
		"operation":  DBInsert,
		"document":   "{{input}}",
		"retryCount": 2,
		"retryDelay": 500,
	},
	Schema: `{
		"type": "object",
		"required": ["collection"],
		"properties": {
			"store": {"type": "string", "minLength": 1},
			"collection": {"type": "string", "minLength": 1},
			"operation": {"enum": ["insert", "update", "upsert", "delete"]},
			"filter": {"type": "object"}
		},
		"if": {"properties": {"operation": {"enum": ["update", "delete"]}}, "required": ["operation"]},
		"then": {"required": ["filter"]}
	}`,
}

// DatabaseOutput — executor database.
type DatabaseOutput struct {
	base
}

// NewDatabaseOutput создаёт executor database.
func NewDatabaseOutput() *DatabaseOutput {
	return &DatabaseOutput{base: base{meta: databaseMeta}}
}

// dbItem — документ и фильтр одного элемента.
type dbItem struct {
	doc    map[string]any
	filter map[string]any
}

// Execute выполняет операцию записи.
func (e *DatabaseOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg DatabaseConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	store, err := nctx.Services.DocumentStore(cfg.Store)
	if err != nil {
		return configFailure("database: %w", err)
	}

	collection := engine.Resolve(cfg.Collection, nctx.TemplateData())
	if collection == "" || engine.HasPlaceholders(collection) {
		return configFailure("database: invalid collection %q", collection)
	}

	items, err := e.items(nctx, &cfg)
	if err != nil {
		return domain.Failed(err, nil)
	}

	var total services.WriteResult
	add := func(r services.WriteResult) {
		total.Inserted += r.Inserted
		total.Matched += r.Matched
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.IDs = append(total.IDs, r.IDs...)
	}

	switch cfg.Operation {
	case DBInsert:
		docs := make([]map[string]any, 0, len(items))
		for _, it := range items {
			docs = append(docs, it.doc)
		}
		r, err := store.Insert(ctx, collection, docs)
		if err != nil {
			return execFailure(ctx, fmt.Errorf("insert into %s: %w", collection, err), nil)
		}
		add(r)

	case DBUpdate, DBUpsert, DBDelete:
		for i, it := range items {
			var r services.WriteResult
			var err error
			switch cfg.Operation {
			case DBUpdate:
				r, err = store.Update(ctx, collection, it.filter, it.doc)
			case DBUpsert:
				r, err = store.Upsert(ctx, collection, it.filter, it.doc)
			default:
				r, err = store.Delete(ctx, collection, it.filter)
			}
			if err != nil {
				return execFailure(ctx, fmt.Errorf("%s %s: %w", cfg.Operation, collection, err),
					map[string]any{"index": i, "completed": total})
			}
			add(r)
		}

	default:
		return configFailure("database: %w: operation %q", ErrUnsupportedMode, cfg.Operation)
	}

	return domain.Succeeded(total, map[string]any{
		"store":      cfg.Store,
		"collection": collection,
		"operation":  cfg.Operation,
		"items":      len(items),
	})
}

// items разрешает шаблоны document/filter для входа или каждого элемента массива.
func (e *DatabaseOutput) items(nctx *NodeContext, cfg *DatabaseConfig) ([]dbItem, error) {
	var contexts []map[string]any
	if arr, ok := asSlice(nctx.Input); ok {
		for i, item := range arr {
			contexts = append(contexts, nctx.ItemData(item, i))
		}
	} else {
		contexts = append(contexts, nctx.TemplateData())
	}

	out := make([]dbItem, 0, len(contexts))
	for i, data := range contexts {
		it := dbItem{}
		if cfg.Operation != DBDelete {
			doc, err := documentOf(engine.ResolveValue(cfg.Document, data))
			if err != nil {
				return nil, domain.ConfigError(fmt.Sprintf("document[%d]", i), err)
			}
			it.doc = doc
		}
		if cfg.Operation != DBInsert {
			filter, _ := engine.ResolveValue(cfg.Filter, data).(map[string]any)
			if len(filter) == 0 && cfg.Operation == DBUpsert {
				if id, ok := it.doc[services.IDField]; ok {
					filter = map[string]any{services.IDField: id}
				}
			}
			if len(filter) == 0 {
				return nil, domain.ConfigError("", fmt.Errorf("%w: filter", ErrMissingField))
			}
			it.filter = filter
		}
		out = append(out, it)
	}
	return out, nil
}

// documentOf приводит разрешённый шаблон к объекту.
// Строка должна быть JSON-объектом.
func documentOf(v any) (map[string]any, error) {
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(val)), &doc); err != nil {
			return nil, fmt.Errorf("document is not a JSON object: %w", err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("document must be an object, got %T", v)
}
