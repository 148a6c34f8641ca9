package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/proto"
)

// RedisBackend stores tables in Redis using github.com/redis/go-redis/v9.
// Every entity is one Redis string at "{prefix}{table}:{key}", so several
// sessions can share a cache and data survives client restarts.
type RedisBackend struct {
	client *redis.Client
	prefix string // Optional key prefix (e.g., "gwstate:")
}

// NewRedisBackend creates a Redis-backed backend.
// If prefix is empty, "gwstate:" is used by default.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "gwstate:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

// NewRedisBackendFromURL creates a Redis backend from a connection URL.
// Example: "redis://localhost:6379/0" or "redis://:password@localhost:6379/1"
func NewRedisBackendFromURL(url string, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisBackend(redis.NewClient(opts), prefix), nil
}

func (b *RedisBackend) OpenTable(ctx context.Context, name string) (Table, error) {
	return &redisTable{
		client: b.client,
		prefix: b.prefix + name + ":",
	}, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisTable struct {
	client *redis.Client
	prefix string
}

func (t *redisTable) Get(ctx context.Context, key string) (proto.Message, error) {
	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return unmarshalEntity(data)
}

func (t *redisTable) Set(ctx context.Context, key string, msg proto.Message) error {
	data, err := marshalEntity(msg)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.prefix+key, data, 0).Err()
}

func (t *redisTable) Delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.prefix+key).Err()
}

func (t *redisTable) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := t.scan(ctx, func(batch []string) error {
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, t.prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (t *redisTable) Clear(ctx context.Context) error {
	return t.scan(ctx, func(batch []string) error {
		if len(batch) == 0 {
			return nil
		}
		return t.client.Del(ctx, batch...).Err()
	})
}

// scan walks every key of the table in SCAN-sized batches.
func (t *redisTable) scan(ctx context.Context, fn func(batch []string) error) error {
	pattern := escapeGlob(t.prefix) + "*"
	var cursor uint64
	for {
		batch, next, err := t.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if err := fn(batch); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
