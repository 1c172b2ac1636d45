package executors

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeObjectStorage — загрузка в объектное хранилище.
const TypeObjectStorage = "object-storage"

// Параметры загрузки по умолчанию.
const (
	defaultMultipartThreshold = 8 * 1024 * 1024
	defaultPartSize           = 5 * 1024 * 1024
)

// ObjectStorageConfig — конфигурация object-storage.
//
//	{
//	    "bucket": "exports",
//	    "key": "orders/{{execution.id}}.json",
//	    "content": "{{input}}",
//	    "compression": "gzip",
//	    "multipartThreshold": 8388608,
//	    "keepVersions": 5
//	}
//
// format=base64 декодирует строковый content как бинарные данные.
type ObjectStorageConfig struct {
	Bucket             string            `json:"bucket"`
	Key                string            `json:"key"`
	Content            any               `json:"content"`
	Format             string            `json:"format"`
	ContentType        string            `json:"contentType"`
	Compression        string            `json:"compression"`
	MultipartThreshold int64             `json:"multipartThreshold"`
	PartSize           int64             `json:"partSize"`
	KeepVersions       int               `json:"keepVersions"`
	Metadata           map[string]string `json:"metadata"`
}

var objectStorageMeta = domain.ExecutorMetadata{
	Type:           TypeObjectStorage,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	RequiresAuth:   true,
	DefaultData: map[string]any{
		"content":            "{{input}}",
		"format":             "json",
		"compression":        "none",
		"multipartThreshold": defaultMultipartThreshold,
		"partSize":           defaultPartSize,
		"retryCount":         2,
		"retryDelay":         1000,
	},
	Schema: `{
		"type": "object",
		"required": ["bucket", "key"],
		"properties": {
			"bucket": {"type": "string", "minLength": 3},
			"key": {"type": "string", "minLength": 1},
			"format": {"enum": ["json", "text", "base64"]},
			"compression": {"enum": ["none", "gzip", "zstd"]},
			"multipartThreshold": {"type": "integer", "minimum": 0},
			"partSize": {"type": "integer", "minimum": 5242880},
			"keepVersions": {"type": "integer", "minimum": 0},
			"metadata": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`,
}

// ObjectStorageOutput — executor object-storage.
type ObjectStorageOutput struct {
	base
}

// NewObjectStorageOutput создаёт executor object-storage.
func NewObjectStorageOutput() *ObjectStorageOutput {
	return &ObjectStorageOutput{base: base{meta: objectStorageMeta}}
}

// Execute загружает объект и при keepVersions > 0 удаляет старые версии.
func (e *ObjectStorageOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg ObjectStorageConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	if nctx.Services == nil || nctx.Services.Objects == nil {
		return configFailure("object-storage: %w", services.ErrNoStore)
	}
	objects := nctx.Services.Objects

	data := nctx.TemplateData()
	bucket := engine.Resolve(cfg.Bucket, data)
	key := engine.Resolve(cfg.Key, data)
	if engine.HasPlaceholders(bucket) || engine.HasPlaceholders(key) {
		return configFailure("object-storage: unresolved bucket or key %q/%q", bucket, key)
	}

	body, contentType, err := objectBody(engine.ResolveValue(cfg.Content, data), cfg.Format)
	if err != nil {
		return configFailure("object-storage: %w", err)
	}
	rawSize := len(body)
	if cfg.ContentType != "" {
		contentType = cfg.ContentType
	}

	encoding := ""
	switch cfg.Compression {
	case "", "none":
	case "gzip", "zstd":
		body, err = compress(body, cfg.Compression)
		if err != nil {
			return execFailure(ctx, err, nil)
		}
		encoding = cfg.Compression
	default:
		return configFailure("object-storage: %w: compression %q", ErrUnsupportedMode, cfg.Compression)
	}

	opts := services.PutOptions{ContentType: contentType, ContentEncoding: encoding, Metadata: map[string]string{
		"nodeflow-execution": nctx.Execution.ExecutionID,
		"nodeflow-node":      nctx.nodeID(),
	}}
	for k, v := range cfg.Metadata {
		opts.Metadata[k] = engine.Resolve(v, data)
	}

	var info services.ObjectInfo
	multipart := cfg.MultipartThreshold > 0 && int64(len(body)) > cfg.MultipartThreshold
	if multipart {
		partSize := cfg.PartSize
		if partSize < defaultPartSize {
			partSize = defaultPartSize
		}
		info, err = objects.PutMultipart(ctx, bucket, key, body, partSize, opts)
	} else {
		info, err = objects.Put(ctx, bucket, key, body, opts)
	}
	if err != nil {
		return execFailure(ctx, fmt.Errorf("upload %s/%s: %w", bucket, key, err), nil)
	}

	meta := map[string]any{
		"multipart":  multipart,
		"rawSize":    rawSize,
		"storedSize": len(body),
	}
	if cfg.KeepVersions > 0 {
		pruned, err := pruneVersions(ctx, objects, bucket, key, cfg.KeepVersions)
		if err != nil {
			// Объект уже загружен: ошибка очистки не отменяет результат.
			nctx.log().Warn("prune object versions failed",
				"node_id", nctx.nodeID(),
				"bucket", bucket,
				"key", key,
				"error", err,
			)
			meta["pruneError"] = err.Error()
		}
		meta["prunedVersions"] = pruned
	}
	return domain.Succeeded(info, meta)
}

// objectBody сериализует содержимое объекта по format.
func objectBody(content any, format string) ([]byte, string, error) {
	switch format {
	case "base64":
		s, ok := content.(string)
		if !ok {
			return nil, "", fmt.Errorf("base64 content must be a string, got %T", content)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 content: %w", err)
		}
		return raw, "application/octet-stream", nil
	case "text":
		return []byte(engine.Stringify(content)), "text/plain; charset=utf-8", nil
	}
	raw, ct, err := serializeBody(content, "json")
	if err != nil {
		return nil, "", err
	}
	if raw == nil {
		raw = []byte("null")
	}
	return raw, ct, nil
}

// compress сжимает тело gzip или zstd (klauspost/compress).
func compress(body []byte, algo string) ([]byte, error) {
	if algo == "zstd" {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// pruneVersions оставляет keep новейших версий key и удаляет остальные.
func pruneVersions(ctx context.Context, objects services.ObjectStore, bucket, key string, keep int) (int, error) {
	versions, err := objects.ListVersions(ctx, bucket, key)
	if err != nil {
		return 0, fmt.Errorf("list versions: %w", err)
	}
	kept, pruned := 0, 0
	for _, v := range versions {
		if v.Key != key {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := objects.DeleteVersion(ctx, bucket, key, v.VersionID); err != nil {
			return pruned, fmt.Errorf("delete version %s: %w", v.VersionID, err)
		}
		pruned++
	}
	return pruned, nil
}
