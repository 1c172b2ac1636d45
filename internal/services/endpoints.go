package services

import (
	"context"
	"strings"
)

// Route — webhook endpoint, связанный с триггером workflow.
type Route struct {
	WorkflowID string
	NodeID     string
	Path       string
	Method     string
}

// Endpoints регистрирует webhook endpoints во внешнем HTTP-слушателе.
// RegisterEndpoint идемпотентен и возвращает публичный URL.
type Endpoints interface {
	RegisterEndpoint(ctx context.Context, route Route) (string, error)
}

// StaticEndpoints только строит URL, ничего не регистрируя.
// Подходит для локального запуска, где слушателя нет.
type StaticEndpoints struct {
	BaseURL string
}

// NewStaticEndpoints создаёт StaticEndpoints.
func NewStaticEndpoints(baseURL string) *StaticEndpoints {
	return &StaticEndpoints{BaseURL: baseURL}
}

// RegisterEndpoint реализует Endpoints.
func (e *StaticEndpoints) RegisterEndpoint(_ context.Context, route Route) (string, error) {
	return HookURL(e.BaseURL, route.Path), nil
}

// HookURL строит публичный URL webhook: {base}/hooks/{path}.
func HookURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/hooks/" + strings.TrimLeft(path, "/")
}
