package ratelimit

import (
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "keyword-engine/internal/common/errors"
)

// Backend selects the limiter implementation.
type Backend string

const (
	BackendLocal       Backend = "local"
	BackendDistributed Backend = "distributed"
)

// Config holds limiter construction settings.
type Config struct {
	Backend   Backend
	Quotas    QuotaTable
	KeyPrefix string
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// New creates a limiter for the configured backend. The distributed
// backend requires a Redis client.
func New(config Config, client redis.UniversalClient) (Limiter, error) {
	if config.Backend == "" {
		config.Backend = BackendLocal
	}

	switch config.Backend {
	case BackendLocal:
		return NewLocalLimiter(config.Quotas, config.Now)
	case BackendDistributed:
		return NewDistributedLimiter(client, config.Quotas, config.KeyPrefix, config.Now)
	default:
		return nil, apperrors.ConfigError("unsupported rate limiter backend").WithContext("backend", string(config.Backend))
	}
}
