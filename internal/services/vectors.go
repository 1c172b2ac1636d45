package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// VectorRecord — вектор с идентификатором и метаданными.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// VectorStore — векторное хранилище.
type VectorStore interface {
	// Upsert записывает записи, перезаписывая существующие id.
	Upsert(ctx context.Context, records []VectorRecord) error

	// DeleteAll удаляет все записи коллекции (namespace).
	DeleteAll(ctx context.Context) error
}

// VectorStoreConfig — параметры векторного хранилища.
//
// Collection — коллекция Qdrant или namespace Pinecone.
type VectorStoreConfig struct {
	Provider   string // qdrant | pinecone
	URL        string
	Collection string
	APIKey     string
	Client     *http.Client
}

// NewVectorStore создаёт VectorStore по Provider.
func NewVectorStore(cfg VectorStoreConfig) (VectorStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vector store url: %w", ErrNoStore)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	switch cfg.Provider {
	case "qdrant":
		if cfg.Collection == "" {
			return nil, fmt.Errorf("qdrant collection: %w", ErrNoStore)
		}
		return &QdrantStore{cfg: cfg}, nil
	case "pinecone":
		return &PineconeStore{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("vector store %q: %w", cfg.Provider, ErrUnknownProvider)
}

// QdrantStore — Qdrant REST API.
type QdrantStore struct {
	cfg VectorStoreConfig
}

// QdrantID приводит id к виду, который принимает Qdrant (UUID).
// Произвольные строки детерминированно отображаются в UUID v5.
func QdrantID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *QdrantStore) headers() map[string]string {
	return map[string]string{"api-key": s.cfg.APIKey}
}

// Upsert реализует VectorStore. Исходный id сохраняется в payload._id.
func (s *QdrantStore) Upsert(ctx context.Context, records []VectorRecord) error {
	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload["_id"] = r.ID
		points[i] = map[string]any{"id": QdrantID(r.ID), "vector": r.Vector, "payload": payload}
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.cfg.URL, s.cfg.Collection)
	if err := postJSON(ctx, s.cfg.Client, http.MethodPut, url, s.headers(), map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// DeleteAll реализует VectorStore.
func (s *QdrantStore) DeleteAll(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.cfg.URL, s.cfg.Collection)
	body := map[string]any{"filter": map[string]any{"must": []any{}}}
	if err := postJSON(ctx, s.cfg.Client, http.MethodPost, url, s.headers(), body, nil); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// PineconeStore — Pinecone data plane API (URL — host индекса).
type PineconeStore struct {
	cfg VectorStoreConfig
}

func (s *PineconeStore) headers() map[string]string {
	return map[string]string{"Api-Key": s.cfg.APIKey}
}

// Upsert реализует VectorStore.
func (s *PineconeStore) Upsert(ctx context.Context, records []VectorRecord) error {
	vectors := make([]map[string]any, len(records))
	for i, r := range records {
		vectors[i] = map[string]any{"id": r.ID, "values": r.Vector, "metadata": r.Metadata}
	}
	body := map[string]any{"vectors": vectors}
	if s.cfg.Collection != "" {
		body["namespace"] = s.cfg.Collection
	}
	if err := postJSON(ctx, s.cfg.Client, http.MethodPost, s.cfg.URL+"/vectors/upsert", s.headers(), body, nil); err != nil {
		return fmt.Errorf("pinecone upsert: %w", err)
	}
	return nil
}

// DeleteAll реализует VectorStore.
func (s *PineconeStore) DeleteAll(ctx context.Context) error {
	body := map[string]any{"deleteAll": true}
	if s.cfg.Collection != "" {
		body["namespace"] = s.cfg.Collection
	}
	if err := postJSON(ctx, s.cfg.Client, http.MethodPost, s.cfg.URL+"/vectors/delete", s.headers(), body, nil); err != nil {
		return fmt.Errorf("pinecone delete: %w", err)
	}
	return nil
}
