package services

import "errors"

var (
	// ErrNotFound — ключ или объект не найден.
	ErrNotFound = errors.New("not found")

	// ErrSecretNotFound — секрет не задан.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrOutsideRoot — путь выходит за пределы корня файлов.
	ErrOutsideRoot = errors.New("path escapes files root")

	// ErrNoStore — запрошенное хранилище не настроено.
	ErrNoStore = errors.New("store is not configured")

	// ErrInvalidNamespace — пустой namespace.
	ErrInvalidNamespace = errors.New("namespace is required")
)

// ErrUnknownProvider — провайдер embeddings или векторного хранилища не поддерживается.
var ErrUnknownProvider = errors.New("unknown provider")
