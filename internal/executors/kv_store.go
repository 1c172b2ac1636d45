package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeKVStore — чтение и запись key-value хранилища.
const TypeKVStore = "kv-store"

// KVConfig — конфигурация kv-store.
//
//	{"operation": "set", "key": "last-order-{{input.id}}", "value": "{{input}}", "ttl": 3600}
//
// namespace по умолчанию — ID workflow.
type KVConfig struct {
	Operation string `json:"operation"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
	Default   any    `json:"default"`
	TTL       int    `json:"ttl"`
	Prefix    string `json:"prefix"`
}

var kvMeta = domain.ExecutorMetadata{
	Type:           TypeKVStore,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"operation": "get", "value": "{{input}}"},
	Schema: `{
		"type": "object",
		"properties": {
			"operation": {"enum": ["get", "set", "delete", "list"]},
			"namespace": {"type": "string"},
			"key": {"type": "string"},
			"ttl": {"type": "number", "minimum": 0},
			"prefix": {"type": "string"}
		},
		"if": {"properties": {"operation": {"enum": ["set", "delete"]}}, "required": ["operation"]},
		"then": {"required": ["key"]}
	}`,
}

// KVStore — executor kv-store поверх services.Storage.
type KVStore struct {
	base
}

// NewKVStore создаёт executor kv-store.
func NewKVStore() *KVStore {
	return &KVStore{base: base{meta: kvMeta}}
}

// Execute реализует Executor.
func (e *KVStore) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg KVConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	if nctx.Services == nil || nctx.Services.Storage == nil {
		return configFailure("kv-store: %w", services.ErrNoStore)
	}
	store := nctx.Services.Storage

	data := nctx.TemplateData()
	ns := engine.Resolve(cfg.Namespace, data)
	if ns == "" {
		ns = nctx.Execution.WorkflowID
	}
	key := engine.Resolve(cfg.Key, data)
	meta := map[string]any{"operation": cfg.Operation, "namespace": ns, "key": key}

	switch cfg.Operation {
	case "get":
		if key == "" {
			return configFailure("kv-store: %w: key", ErrMissingField)
		}
		v, ok, err := store.Get(ctx, ns, key)
		if err != nil {
			return execFailure(ctx, fmt.Errorf("get %s: %w", key, err), nil)
		}
		meta["found"] = ok
		if !ok {
			v = cfg.Default
		}
		return domain.Succeeded(v, meta)

	case "set":
		value := engine.ResolveValue(cfg.Value, data)
		ttl := time.Duration(cfg.TTL) * time.Second
		if err := store.Set(ctx, ns, key, value, ttl); err != nil {
			return execFailure(ctx, fmt.Errorf("set %s: %w", key, err), nil)
		}
		return domain.Succeeded(nctx.Input, meta)

	case "delete":
		if err := store.Delete(ctx, ns, key); err != nil && !errors.Is(err, services.ErrNotFound) {
			return execFailure(ctx, fmt.Errorf("delete %s: %w", key, err), nil)
		}
		return domain.Succeeded(nctx.Input, meta)

	case "list":
		keys, err := store.ListKeys(ctx, ns, engine.Resolve(cfg.Prefix, data))
		if err != nil {
			return execFailure(ctx, fmt.Errorf("list keys: %w", err), nil)
		}
		meta["count"] = len(keys)
		return domain.Succeeded(keys, meta)
	}
	return configFailure("kv-store: %w: operation %q", ErrUnsupportedMode, cfg.Operation)
}
