package services

import (
	"context"
	"time"
)

// ObjectInfo — результат загрузки объекта.
type ObjectInfo struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	ETag      string `json:"etag,omitempty"`
	VersionID string `json:"versionId,omitempty"`
	Size      int64  `json:"size"`
	Parts     int    `json:"parts,omitempty"`
}

// ObjectVersion — версия объекта в бакете.
type ObjectVersion struct {
	Key          string
	VersionID    string
	LastModified time.Time
	IsLatest     bool
}

// PutOptions — параметры загрузки.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// ObjectStore — объектное хранилище для узла object-storage.
type ObjectStore interface {
	// Put загружает объект одним запросом.
	Put(ctx context.Context, bucket, key string, body []byte, opts PutOptions) (ObjectInfo, error)

	// PutMultipart загружает объект частями по partSize байт.
	PutMultipart(ctx context.Context, bucket, key string, body []byte, partSize int64, opts PutOptions) (ObjectInfo, error)

	// ListVersions возвращает версии объектов с префиксом, новые первыми.
	ListVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error)

	// DeleteVersion удаляет конкретную версию объекта.
	DeleteVersion(ctx context.Context, bucket, key, versionID string) error
}
