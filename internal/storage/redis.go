package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"keyword-engine/internal/models"
)

// RedisStore persists cache records in Redis, for deployments where multiple
// engine instances should share one durable tier. Records carry a physical
// TTL matching their expiry; the registry and reverse-dependency sets are
// best-effort cleaned by the periodic sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. The prefix namespaces every
// key so multiple applications can share one Redis instance.
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "kwcache:"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + "entry:" + key }
func (s *RedisStore) rdepsKey(key string) string { return s.prefix + "rdeps:" + key }
func (s *RedisStore) registryKey() string        { return s.prefix + "keys" }

// Get returns the record for a key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (*models.CacheRecord, error) {
	data, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var rec models.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return &rec, nil
}

// Set writes a record with a physical TTL matching its expiry and registers
// its dependency edges.
func (s *RedisStore) Set(ctx context.Context, rec *models.CacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(rec.Key), data, ttl)
	pipe.SAdd(ctx, s.registryKey(), rec.Key)
	for _, dep := range rec.DependsOn {
		pipe.SAdd(ctx, s.rdepsKey(dep), rec.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes records, their registry membership, and reverse edges.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		// Best effort: unlink from parents' reverse sets.
		if rec, err := s.Get(ctx, key); err == nil {
			for _, dep := range rec.DependsOn {
				pipe.SRem(ctx, s.rdepsKey(dep), key)
			}
		}
		pipe.Del(ctx, s.entryKey(key), s.rdepsKey(key))
		pipe.SRem(ctx, s.registryKey(), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// BumpAccess increments a record's access count without extending its TTL.
func (s *RedisStore) BumpAccess(ctx context.Context, key string) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	rec.AccessCount++

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// KEEPTTL preserves the remaining expiry.
	return s.client.SetArgs(ctx, s.entryKey(key), data, redis.SetArgs{KeepTTL: true}).Err()
}

// Dependents returns the keys directly depending on the given key.
func (s *RedisStore) Dependents(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.rdepsKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	return members, nil
}

// CleanupExpired walks the registry and removes entries that are expired or
// already physically evicted by Redis.
func (s *RedisStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list cache registry: %w", err)
	}

	removed := 0
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err == ErrNotFound {
			// Physically expired; reclaim the registry slot.
			if err := s.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		if err != nil {
			return removed, err
		}
		if rec.Expired(now) {
			if err := s.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// CountByType returns live record counts per data type.
func (s *RedisStore) CountByType(ctx context.Context) (map[models.DataType]int, error) {
	keys, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache registry: %w", err)
	}

	counts := make(map[models.DataType]int)
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		counts[rec.DataType]++
	}
	return counts, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
