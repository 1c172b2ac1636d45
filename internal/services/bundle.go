package services

import (
	"fmt"
	"net/http"
)

// Bundle — набор сервисов, доступных узлам.
type Bundle struct {
	// Storage — key-value хранилище.
	Storage Storage

	// Secrets — поиск секретов по имени.
	Secrets Secrets

	// HTTP — общий HTTP-клиент для исходящих запросов.
	HTTP *http.Client

	// Files — чтение файлов.
	Files Files

	// Endpoints — регистрация webhook endpoints.
	Endpoints Endpoints

	// Documents — документные хранилища по имени ("postgres", "redis", "memory").
	Documents map[string]DocumentStore

	// Objects — объектное хранилище.
	Objects ObjectStore

	// Mailer — почтовый сервер по умолчанию для узлов email без smtp.host.
	Mailer Mailer
}

// NewMemoryBundle создаёт Bundle только из in-memory реализаций.
// Используется в тестах и при локальном запуске через CLI.
func NewMemoryBundle() *Bundle {
	return &Bundle{
		Storage:   NewMemoryStorage(),
		Secrets:   EnvSecrets{},
		HTTP:      NewHTTPClient(HTTPConfig{}),
		Endpoints: NewStaticEndpoints("http://localhost:8080"),
		Documents: map[string]DocumentStore{"memory": NewMemoryDocuments()},
	}
}

// DocumentStore возвращает хранилище по имени.
func (b *Bundle) DocumentStore(name string) (DocumentStore, error) {
	if b == nil || b.Documents == nil {
		return nil, fmt.Errorf("document store %q: %w", name, ErrNoStore)
	}
	s, ok := b.Documents[name]
	if !ok || s == nil {
		return nil, fmt.Errorf("document store %q: %w", name, ErrNoStore)
	}
	return s, nil
}

// Secret возвращает секрет по имени или ErrSecretNotFound.
func (b *Bundle) Secret(name string) (string, error) {
	if b == nil || b.Secrets == nil {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	v, ok := b.Secrets.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return v, nil
}

// Client возвращает HTTP-клиент (http.DefaultClient, если не задан).
func (b *Bundle) Client() *http.Client {
	if b == nil || b.HTTP == nil {
		return http.DefaultClient
	}
	return b.HTTP
}
