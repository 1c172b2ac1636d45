package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Embedder превращает тексты в векторы. Порядок результата совпадает с texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig — параметры провайдера embeddings.
type EmbedderConfig struct {
	Provider   string // openai | ollama
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Client     *http.Client
}

// NewEmbedder создаёт Embedder по Provider.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "text-embedding-3-small"
		}
		return &OpenAIEmbedder{cfg: cfg}, nil
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}
		return &OllamaEmbedder{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("embedding provider %q: %w", cfg.Provider, ErrUnknownProvider)
}

// OpenAIEmbedder — POST {BaseURL}/embeddings.
type OpenAIEmbedder struct {
	cfg EmbedderConfig
}

// Embed реализует Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{"model": e.cfg.Model, "input": texts}
	if e.cfg.Dimensions > 0 {
		payload["dimensions"] = e.cfg.Dimensions
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	headers := map[string]string{}
	if e.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + e.cfg.APIKey
	}
	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/embeddings"
	if err := postJSON(ctx, e.cfg.Client, http.MethodPost, url, headers, payload, &out); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector %d", i)
		}
	}
	return vectors, nil
}

// OllamaEmbedder — POST {BaseURL}/api/embed.
type OllamaEmbedder struct {
	cfg EmbedderConfig
}

// Embed реализует Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/api/embed"
	payload := map[string]any{"model": e.cfg.Model, "input": texts}
	if err := postJSON(ctx, e.cfg.Client, http.MethodPost, url, nil, payload, &out); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: got %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
