package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Type selects the durable-tier backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeRedis    Type = "redis"
)

// Config holds backend selection and connection settings.
type Config struct {
	Type        Type
	SQLitePath  string
	PostgresDSN string
	RedisClient *redis.Client
	KeyPrefix   string
}

// New creates a durable store based on configuration.
func New(ctx context.Context, config Config) (Store, error) {
	switch config.Type {
	case TypeMemory:
		return NewMemoryStore(), nil

	case TypeSQLite, "":
		path := config.SQLitePath
		if path == "" {
			path = "./keyword_engine.db"
		}
		return NewSQLiteStore(path)

	case TypePostgres:
		if config.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN required for postgres store")
		}
		return NewPostgresStore(ctx, config.PostgresDSN)

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis store")
		}
		return NewRedisStore(config.RedisClient, config.KeyPrefix)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
