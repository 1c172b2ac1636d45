package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// IDField — поле с идентификатором документа.
const IDField = "id"

// WriteResult — итог операции записи.
type WriteResult struct {
	Inserted int64    `json:"inserted"`
	Matched  int64    `json:"matched"`
	Modified int64    `json:"modified"`
	Deleted  int64    `json:"deleted"`
	IDs      []string `json:"ids,omitempty"`
}

// DocumentStore — документное хранилище для узла database.
//
// filter — равенство по полям верхнего уровня (пустой filter совпадает со всем).
type DocumentStore interface {
	Insert(ctx context.Context, collection string, docs []map[string]any) (WriteResult, error)
	Update(ctx context.Context, collection string, filter, set map[string]any) (WriteResult, error)
	Upsert(ctx context.Context, collection string, filter, doc map[string]any) (WriteResult, error)
	Delete(ctx context.Context, collection string, filter map[string]any) (WriteResult, error)
}

// DocumentID возвращает id документа, генерируя новый при отсутствии.
func DocumentID(doc map[string]any) string {
	if v, ok := doc[IDField]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return uuid.NewString()
}

// Matches проверяет, что doc содержит все пары filter.
func Matches(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !looselyEqual(got, want) {
			return false
		}
	}
	return true
}

func looselyEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Числа и строки из шаблонов сравниваем по строковому виду
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// MemoryDocuments — in-memory DocumentStore.
type MemoryDocuments struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

// NewMemoryDocuments создаёт пустое хранилище.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{collections: make(map[string]map[string]map[string]any)}
}

func (m *MemoryDocuments) coll(name string) map[string]map[string]any {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		m.collections[name] = c
	}
	return c
}

// Insert реализует DocumentStore.
func (m *MemoryDocuments) Insert(_ context.Context, collection string, docs []map[string]any) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	var res WriteResult
	for _, doc := range docs {
		id := DocumentID(doc)
		if _, exists := c[id]; exists {
			return res, fmt.Errorf("document %s already exists in %s", id, collection)
		}
		stored := copyDoc(doc)
		stored[IDField] = id
		c[id] = stored
		res.Inserted++
		res.IDs = append(res.IDs, id)
	}
	return res, nil
}

// Update реализует DocumentStore.
func (m *MemoryDocuments) Update(_ context.Context, collection string, filter, set map[string]any) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res WriteResult
	for id, doc := range m.coll(collection) {
		if !Matches(doc, filter) {
			continue
		}
		res.Matched++
		changed := false
		for k, v := range set {
			if !reflect.DeepEqual(doc[k], v) {
				doc[k] = v
				changed = true
			}
		}
		if changed {
			res.Modified++
		}
		res.IDs = append(res.IDs, id)
	}
	sort.Strings(res.IDs)
	return res, nil
}

// Upsert реализует DocumentStore: заменяет совпавшие документы или вставляет новый.
func (m *MemoryDocuments) Upsert(_ context.Context, collection string, filter, doc map[string]any) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	var res WriteResult
	for id, existing := range c {
		if !Matches(existing, filter) {
			continue
		}
		res.Matched++
		replacement := copyDoc(doc)
		replacement[IDField] = id
		c[id] = replacement
		res.Modified++
		res.IDs = append(res.IDs, id)
	}
	if res.Matched > 0 {
		sort.Strings(res.IDs)
		return res, nil
	}

	merged := copyDoc(filter)
	for k, v := range doc {
		merged[k] = v
	}
	id := DocumentID(merged)
	merged[IDField] = id
	c[id] = merged
	res.Inserted = 1
	res.IDs = []string{id}
	return res, nil
}

// Delete реализует DocumentStore.
func (m *MemoryDocuments) Delete(_ context.Context, collection string, filter map[string]any) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	var res WriteResult
	for id, doc := range c {
		if Matches(doc, filter) {
			delete(c, id)
			res.Deleted++
			res.IDs = append(res.IDs, id)
		}
	}
	sort.Strings(res.IDs)
	return res, nil
}

// Find возвращает копии документов, совпавших с filter (отсортированы по id).
func (m *MemoryDocuments) Find(collection string, filter map[string]any) []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0)
	for id, doc := range m.collections[collection] {
		if Matches(doc, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = copyDoc(m.collections[collection][id])
	}
	return out
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
