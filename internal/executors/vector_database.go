package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeVectorDatabase — индексация записей в векторной БД.
const TypeVectorDatabase = "vector-database"

// Режимы upsert.
const (
	VectorCreate  = "create"
	VectorUpdate  = "update"
	VectorReplace = "replace"
)

// VectorConfig — конфигурация vector-database.
//
//	{
//	    "embedding": {"provider": "openai", "model": "text-embedding-3-small", "apiKeySecret": "OPENAI_KEY"},
//	    "store": {"provider": "qdrant", "url": "http://qdrant:6333", "collection": "docs"},
//	    "textField": "body",
//	    "idField": "id",
//	    "metadataFields": ["title", "author.name"],
//	    "includeTimestamp": true,
//	    "mode": "create",
//	    "batchSize": 50
//	}
//
// create генерирует id для записей без idField, update требует id у
// каждой записи, replace очищает коллекцию перед записью.
type VectorConfig struct {
	Embedding struct {
		Provider     string `json:"provider"`
		Model        string `json:"model"`
		URL          string `json:"url"`
		APIKeySecret string `json:"apiKeySecret"`
		Dimensions   int    `json:"dimensions"`
	} `json:"embedding"`

	Store struct {
		Provider     string `json:"provider"`
		URL          string `json:"url"`
		Collection   string `json:"collection"`
		APIKeySecret string `json:"apiKeySecret"`
	} `json:"store"`

	TextField        string   `json:"textField"`
	IDField          string   `json:"idField"`
	MetadataFields   []string `json:"metadataFields"`
	IncludeTimestamp bool     `json:"includeTimestamp"`
	Mode             string   `json:"mode"`
	BatchSize        int      `json:"batchSize"`
	RateLimit        float64  `json:"rateLimit"`
}

var vectorMeta = domain.ExecutorMetadata{
	Type:           TypeVectorDatabase,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	RequiresAuth:   true,
	DefaultData: map[string]any{
		"textField":  "text",
		"idField":    "id",
		"mode":       VectorCreate,
		"batchSize":  100,
		"retryCount": 2,
		"retryDelay": 2000,
	},
	Schema: `{
		"type": "object",
		"required": ["embedding", "store"],
		"properties": {
			"embedding": {
				"type": "object",
				"required": ["provider"],
				"properties": {"provider": {"enum": ["openai", "ollama"]}}
			},
			"store": {
				"type": "object",
				"required": ["provider", "url"],
				"properties": {"provider": {"enum": ["qdrant", "pinecone"]}, "url": {"type": "string"}}
			},
			"textField": {"type": "string", "minLength": 1},
			"idField": {"type": "string"},
			"metadataFields": {"type": "array", "items": {"type": "string"}},
			"mode": {"enum": ["create", "update", "replace"]},
			"batchSize": {"type": "integer", "minimum": 1, "maximum": 1000},
			"rateLimit": {"type": "number", "minimum": 0}
		}
	}`,
}

// VectorOutput — executor vector-database.
type VectorOutput struct {
	base
	limits *limiters
	now    func() time.Time

	newEmbedder func(services.EmbedderConfig) (services.Embedder, error)
	newStore    func(services.VectorStoreConfig) (services.VectorStore, error)
}

// NewVectorOutput создаёт executor vector-database.
func NewVectorOutput() *VectorOutput {
	return &VectorOutput{
		base:        base{meta: vectorMeta},
		limits:      newLimiters(),
		now:         time.Now,
		newEmbedder: services.NewEmbedder,
		newStore:    services.NewVectorStore,
	}
}

// Execute индексирует вход (объект или массив) пакетами по batchSize.
func (e *VectorOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg VectorConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	switch cfg.Mode {
	case VectorCreate, VectorUpdate, VectorReplace:
	default:
		return configFailure("vector-database: %w: mode %q", ErrUnsupportedMode, cfg.Mode)
	}

	embedder, store, err := e.clients(nctx, &cfg)
	if err != nil {
		return configFailure("vector-database: %w", err)
	}

	records, err := e.records(nctx, &cfg)
	if err != nil {
		return execFailure(ctx, err, nil)
	}

	if cfg.Mode == VectorReplace {
		if err := store.DeleteAll(ctx); err != nil {
			return execFailure(ctx, err, httpDetails(err))
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	key := nctx.Execution.WorkflowID + "/" + nctx.nodeID()
	ids := make([]string, 0, len(records))
	batches := 0

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batch := records[start:end]

		if err := e.limits.wait(ctx, key, cfg.RateLimit); err != nil {
			return execFailure(ctx, fmt.Errorf("rate limit: %w", err), nil)
		}

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.text
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return execFailure(ctx, err, map[string]any{"batch": batches, "upserted": len(ids)})
		}

		out := make([]services.VectorRecord, len(batch))
		for i, r := range batch {
			out[i] = services.VectorRecord{ID: r.id, Vector: vectors[i], Metadata: r.metadata}
		}
		if err := store.Upsert(ctx, out); err != nil {
			return execFailure(ctx, err, map[string]any{"batch": batches, "upserted": len(ids)})
		}
		for _, r := range batch {
			ids = append(ids, r.id)
		}
		batches++
	}

	nctx.log().Info("vectors upserted",
		"node_id", nctx.nodeID(),
		"count", len(ids),
		"batches", batches,
	)
	return domain.Succeeded(map[string]any{
		"upserted": len(ids),
		"ids":      ids,
	}, map[string]any{
		"mode":     cfg.Mode,
		"batches":  batches,
		"provider": cfg.Store.Provider,
	})
}

func (e *VectorOutput) clients(nctx *NodeContext, cfg *VectorConfig) (services.Embedder, services.VectorStore, error) {
	secret := func(name string) (string, error) {
		if name == "" {
			return "", nil
		}
		return nctx.Services.Secret(name)
	}

	embedKey, err := secret(cfg.Embedding.APIKeySecret)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := e.newEmbedder(services.EmbedderConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.URL,
		APIKey:     embedKey,
		Dimensions: cfg.Embedding.Dimensions,
		Client:     nctx.Services.Client(),
	})
	if err != nil {
		return nil, nil, err
	}

	storeKey, err := secret(cfg.Store.APIKeySecret)
	if err != nil {
		return nil, nil, err
	}
	store, err := e.newStore(services.VectorStoreConfig{
		Provider:   cfg.Store.Provider,
		URL:        cfg.Store.URL,
		Collection: engine.Resolve(cfg.Store.Collection, nctx.TemplateData()),
		APIKey:     storeKey,
		Client:     nctx.Services.Client(),
	})
	if err != nil {
		return nil, nil, err
	}
	return embedder, store, nil
}

// vectorItem — запись до получения вектора.
type vectorItem struct {
	id       string
	text     string
	metadata map[string]any
}

// records извлекает текст, id и метаданные из каждого элемента входа.
// Элементы без текста пропускаются.
func (e *VectorOutput) records(nctx *NodeContext, cfg *VectorConfig) ([]vectorItem, error) {
	items, ok := asSlice(nctx.Input)
	if !ok {
		items = []any{nctx.Input}
	}
	now := e.now().UTC().Format(time.RFC3339)

	out := make([]vectorItem, 0, len(items))
	for i, item := range items {
		raw, found := engine.LookupPath(item, cfg.TextField)
		if !found || isEmpty(raw) {
			continue
		}
		text := strings.TrimSpace(engine.Stringify(raw))

		id := ""
		if cfg.IDField != "" {
			if v, ok := engine.LookupPath(item, cfg.IDField); ok && v != nil {
				id = engine.Stringify(v)
			}
		}
		if id == "" {
			if cfg.Mode == VectorUpdate {
				return nil, fmt.Errorf("item %d: %w: %s", i, ErrMissingField, cfg.IDField)
			}
			id = uuid.NewString()
		}

		meta := map[string]any{"text": text}
		for _, field := range cfg.MetadataFields {
			if v, ok := engine.LookupPath(item, field); ok {
				meta[field] = v
			}
		}
		if cfg.IncludeTimestamp {
			meta["indexedAt"] = now
		}
		out = append(out, vectorItem{id: id, text: text, metadata: meta})
	}
	return out, nil
}
