package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage — key-value хранилище, разделённое на namespace.
//
// ttl = 0 — без истечения.
type Storage interface {
	Get(ctx context.Context, namespace, key string) (any, bool, error)
	Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	ListKeys(ctx context.Context, namespace, prefix string) ([]string, error)
}

type memoryItem struct {
	value     any
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStorage — потокобезопасное in-memory хранилище.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStorage создаёт пустое хранилище.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]map[string]memoryItem),
		now:   time.Now,
	}
}

// Get возвращает значение ключа.
func (s *MemoryStorage) Get(_ context.Context, namespace, key string) (any, bool, error) {
	if namespace == "" {
		return nil, false, ErrInvalidNamespace
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[namespace][key]
	if !ok || item.expired(s.now()) {
		return nil, false, nil
	}
	return item.value, true, nil
}

// Set сохраняет значение.
func (s *MemoryStorage) Set(_ context.Context, namespace, key string, value any, ttl time.Duration) error {
	if namespace == "" {
		return ErrInvalidNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.items[namespace]
	if !ok {
		ns = make(map[string]memoryItem)
		s.items[namespace] = ns
	}
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	ns[key] = item
	return nil
}

// Delete удаляет ключ. Отсутствующий ключ — не ошибка.
func (s *MemoryStorage) Delete(_ context.Context, namespace, key string) error {
	if namespace == "" {
		return ErrInvalidNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[namespace], key)
	return nil
}

// ListKeys возвращает отсортированные живые ключи с префиксом.
func (s *MemoryStorage) ListKeys(_ context.Context, namespace, prefix string) ([]string, error) {
	if namespace == "" {
		return nil, ErrInvalidNamespace
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0)
	for k, item := range s.items[namespace] {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
