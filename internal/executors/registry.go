package executors

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// Registry — реестр типов узлов.
//
// Позволяет регистрировать и получать реализации Executor по типу.
// Реализует engine.Catalog. Потокобезопасен.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Deps — зависимости встроенных executor'ов.
type Deps struct {
	// Sandbox — исполнитель пользовательского кода (code, custom-режимы).
	Sandbox *sandbox.Runner

	// Logger — логгер для executor'ов без NodeContext.Logger.
	Logger *slog.Logger
}

// DefaultRegistry создаёт реестр со всеми встроенными executor'ами.
func DefaultRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sandbox == nil {
		deps.Sandbox = sandbox.New(sandbox.Config{Logger: deps.Logger})
	}

	r := NewRegistry()

	// Триггеры
	r.Register(NewScheduleTrigger())
	r.Register(NewWebhookTrigger())
	r.Register(NewFormTrigger())
	r.Register(NewEmailTrigger())
	r.Register(NewDatabaseChangeTrigger())

	// Преобразования
	r.Register(NewFilter(deps.Sandbox))
	r.Register(NewMap(deps.Sandbox))
	r.Register(NewMerge(deps.Sandbox))
	r.Register(NewCode(deps.Sandbox))
	r.Register(NewDelay())
	r.Register(NewKVStore())
	r.Register(NewReadFile())

	// Выходы
	r.Register(NewWebhookOutput())
	r.Register(NewEmailOutput())
	r.Register(NewDatabaseOutput())
	r.Register(NewObjectStorageOutput())
	r.Register(NewGraphOutput())
	r.Register(NewVectorOutput())

	return r
}

// Register регистрирует executor в реестре.
// Если executor с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Get возвращает executor по типу.
// Возвращает ErrExecutorNotFound, если тип не зарегистрирован.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.executors[nodeType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, nodeType)
	}
	return e, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[nodeType]
	return exists
}

// Metadata возвращает метаданные типа (engine.Catalog).
func (r *Registry) Metadata(nodeType string) (domain.ExecutorMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.executors[nodeType]
	if !exists {
		return domain.ExecutorMetadata{}, false
	}
	return e.Metadata(), true
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All возвращает метаданные всех типов, отсортированные по типу.
func (r *Registry) All() []domain.ExecutorMetadata {
	types := r.Types()
	out := make([]domain.ExecutorMetadata, 0, len(types))
	for _, t := range types {
		if m, ok := r.Metadata(t); ok {
			out = append(out, m)
		}
	}
	return out
}

// Count возвращает количество зарегистрированных типов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Unregister удаляет тип из реестра.
func (r *Registry) Unregister(nodeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, nodeType)
}
