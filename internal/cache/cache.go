package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fileregistry/backend/internal/db"
	"github.com/fileregistry/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Cache is a redis-backed read-through cache of file records by id.
// A nil *Cache is valid and behaves as a permanent miss, so callers
// don't have to branch on whether caching is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Client exposes the underlying client for health checks.
func (c *Cache) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func recordKey(id int64) string {
	return fmt.Sprintf("file:%d", id)
}

func (c *Cache) GetRecord(ctx context.Context, id int64) (*db.FileRecord, bool) {
	if c == nil {
		return nil, false
	}

	val, err := c.client.Get(ctx, recordKey(id)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn(ctx, "cache get failed", map[string]interface{}{"key": recordKey(id), "error": err.Error()})
		return nil, false
	}

	var rec db.FileRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (c *Cache) SetRecord(ctx context.Context, rec *db.FileRecord) {
	if c == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, recordKey(rec.ID), data, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "cache set failed", map[string]interface{}{"key": recordKey(rec.ID), "error": err.Error()})
	}
}

func (c *Cache) Invalidate(ctx context.Context, id int64) {
	if c == nil {
		return
	}

	if err := c.client.Del(ctx, recordKey(id)).Err(); err != nil {
		logger.Warn(ctx, "cache invalidate failed", map[string]interface{}{"key": recordKey(id), "error": err.Error()})
	}
}
