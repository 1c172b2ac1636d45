package executors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeReadFile — чтение файла через services.Files.
const TypeReadFile = "read-file"

// ReadFileConfig — конфигурация read-file.
type ReadFileConfig struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

var readFileMeta = domain.ExecutorMetadata{
	Type:           TypeReadFile,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"encoding": "text"},
	Schema: `{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"encoding": {"enum": ["text", "json", "base64"]}
		}
	}`,
}

// ReadFile — executor read-file. Возвращает {path, size, content}.
type ReadFile struct {
	base
}

// NewReadFile создаёт executor read-file.
func NewReadFile() *ReadFile {
	return &ReadFile{base: base{meta: readFileMeta}}
}

// Execute реализует Executor.
func (e *ReadFile) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg ReadFileConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	if nctx.Services == nil || nctx.Services.Files == nil {
		return configFailure("read-file: %w", services.ErrNoStore)
	}

	path := engine.Resolve(cfg.Path, nctx.TemplateData())
	raw, err := nctx.Services.Files.ReadFile(ctx, path)
	if errors.Is(err, services.ErrOutsideRoot) {
		return configFailure("read-file: %w", err)
	}
	if err != nil {
		return execFailure(ctx, err, map[string]any{"path": path})
	}

	var content any
	switch cfg.Encoding {
	case "json":
		if err := json.Unmarshal(raw, &content); err != nil {
			return execFailure(ctx, fmt.Errorf("parse %s: %w", path, err), map[string]any{"path": path})
		}
	case "base64":
		content = base64.StdEncoding.EncodeToString(raw)
	default:
		content = string(raw)
	}
	return domain.Succeeded(map[string]any{
		"path":    path,
		"size":    len(raw),
		"content": content,
	}, map[string]any{"encoding": cfg.Encoding})
}
