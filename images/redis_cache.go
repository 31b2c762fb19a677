package images

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisCache implements the RecordCache interface using Redis. Records are
// stored msgpack-encoded under "image:<id>" with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache and pings it with ctx.
func NewRedisCache(ctx context.Context, address string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Cache commands show up as child spans of the service operation.
	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to instrument Redis client: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func recordCacheKey(id string) string {
	return "image:" + id
}

// GetRecord gets a record from the cache
func (c *RedisCache) GetRecord(ctx context.Context, id string) (*ImageRecord, error) {
	data, err := c.client.Get(ctx, recordCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errCacheMiss
		}
		return nil, err
	}

	var record ImageRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode cached record: %w", err)
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}

	return &record, nil
}

// SetRecord sets a record in the cache
func (c *RedisCache) SetRecord(ctx context.Context, record *ImageRecord) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return c.client.Set(ctx, recordCacheKey(record.ID), data, c.ttl).Err()
}

// DeleteRecord deletes a record from the cache
func (c *RedisCache) DeleteRecord(ctx context.Context, id string) error {
	return c.client.Del(ctx, recordCacheKey(id)).Err()
}
