package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisDocuments — DocumentStore поверх Redis hash.
//
// Коллекция — hash "{prefix}:doc:{collection}", поле — id, значение — JSON.
// Фильтр без id требует полного чтения коллекции (HGETALL).
type RedisDocuments struct {
	client *redis.Client
	prefix string
}

// NewRedisDocuments создаёт хранилище.
func NewRedisDocuments(client *redis.Client, keyPrefix string) *RedisDocuments {
	if keyPrefix == "" {
		keyPrefix = "nodeflow"
	}
	return &RedisDocuments{client: client, prefix: keyPrefix}
}

func (r *RedisDocuments) key(collection string) string {
	return r.prefix + ":doc:" + collection
}

// Insert реализует DocumentStore.
func (r *RedisDocuments) Insert(ctx context.Context, collection string, docs []map[string]any) (WriteResult, error) {
	var res WriteResult
	for _, doc := range docs {
		id := DocumentID(doc)
		stored := copyDoc(doc)
		stored[IDField] = id
		raw, err := json.Marshal(stored)
		if err != nil {
			return res, fmt.Errorf("encode document: %w", err)
		}
		ok, err := r.client.HSetNX(ctx, r.key(collection), id, raw).Result()
		if err != nil {
			return res, fmt.Errorf("redis hsetnx: %w", err)
		}
		if !ok {
			return res, fmt.Errorf("document %s already exists in %s", id, collection)
		}
		res.Inserted++
		res.IDs = append(res.IDs, id)
	}
	return res, nil
}

// Update реализует DocumentStore.
func (r *RedisDocuments) Update(ctx context.Context, collection string, filter, set map[string]any) (WriteResult, error) {
	matched, err := r.find(ctx, collection, filter)
	if err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Matched: int64(len(matched))}
	pipe := r.client.Pipeline()
	for id, doc := range matched {
		for k, v := range set {
			doc[k] = v
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return WriteResult{}, fmt.Errorf("encode document: %w", err)
		}
		pipe.HSet(ctx, r.key(collection), id, raw)
		res.IDs = append(res.IDs, id)
	}
	if len(matched) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return WriteResult{}, fmt.Errorf("redis update: %w", err)
		}
	}
	res.Modified = res.Matched
	sort.Strings(res.IDs)
	return res, nil
}

// Upsert реализует DocumentStore.
func (r *RedisDocuments) Upsert(ctx context.Context, collection string, filter, doc map[string]any) (WriteResult, error) {
	matched, err := r.find(ctx, collection, filter)
	if err != nil {
		return WriteResult{}, err
	}
	if len(matched) == 0 {
		merged := copyDoc(filter)
		for k, v := range doc {
			merged[k] = v
		}
		res, err := r.Insert(ctx, collection, []map[string]any{merged})
		return res, err
	}

	res := WriteResult{Matched: int64(len(matched)), Modified: int64(len(matched))}
	for id := range matched {
		replacement := copyDoc(doc)
		replacement[IDField] = id
		raw, err := json.Marshal(replacement)
		if err != nil {
			return WriteResult{}, fmt.Errorf("encode document: %w", err)
		}
		if err := r.client.HSet(ctx, r.key(collection), id, raw).Err(); err != nil {
			return WriteResult{}, fmt.Errorf("redis hset: %w", err)
		}
		res.IDs = append(res.IDs, id)
	}
	sort.Strings(res.IDs)
	return res, nil
}

// Delete реализует DocumentStore.
func (r *RedisDocuments) Delete(ctx context.Context, collection string, filter map[string]any) (WriteResult, error) {
	matched, err := r.find(ctx, collection, filter)
	if err != nil {
		return WriteResult{}, err
	}
	if len(matched) == 0 {
		return WriteResult{}, nil
	}
	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	n, err := r.client.HDel(ctx, r.key(collection), ids...).Result()
	if err != nil {
		return WriteResult{}, fmt.Errorf("redis hdel: %w", err)
	}
	return WriteResult{Deleted: n, IDs: ids}, nil
}

// find возвращает документы, совпавшие с filter (id → документ).
func (r *RedisDocuments) find(ctx context.Context, collection string, filter map[string]any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)

	if id, ok := filter[IDField]; ok && id != nil {
		raw, err := r.client.HGet(ctx, r.key(collection), fmt.Sprint(id)).Result()
		if err == redis.Nil {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis hget: %w", err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		if Matches(doc, filter) {
			out[fmt.Sprint(id)] = doc
		}
		return out, nil
	}

	all, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	for id, raw := range all {
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		if Matches(doc, filter) {
			out[id] = doc
		}
	}
	return out, nil
}

func decodeDoc(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
