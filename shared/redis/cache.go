package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ViewCache is a JSON-backed Redis cache for one read view type. Keys are
// namespaced under prefix; a zero ttl keeps entries until they are deleted.
type ViewCache[T any] struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewViewCache[T any](client *goredis.Client, prefix string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *ViewCache[T]) key(id string) string {
	return c.prefix + ":" + id
}

// Get returns (nil, false) on a miss, a Redis error or an undecodable entry.
func (c *ViewCache[T]) Get(ctx context.Context, id string) (*T, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			log.Printf("ViewCache: read error for %s: %v", c.key(id), err)
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// Set stores value. Write failures are logged; the cache is never the
// source of truth.
func (c *ViewCache[T]) Set(ctx context.Context, id string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("ViewCache: marshal error for %s: %v", c.key(id), err)
		return
	}
	if err := c.client.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		log.Printf("ViewCache: write error for %s: %v", c.key(id), err)
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, id string) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		log.Printf("ViewCache: delete error for %s: %v", c.key(id), err)
	}
}

// GetOrLoad returns the cached view for id, calling load and caching its
// result on a miss. Load errors are returned and nothing is cached.
func (c *ViewCache[T]) GetOrLoad(ctx context.Context, id string, load func(context.Context) (*T, error)) (*T, error) {
	if v, ok := c.Get(ctx, id); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, id, v)
	return v, nil
}
