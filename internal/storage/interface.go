// Package storage provides durable-tier backends for the cache manager.
// Every backend persists the same CacheRecord layout and supports reverse
// dependency lookup so cascade invalidation works identically regardless of
// which store is configured.
package storage

import (
	"context"
	"errors"
	"time"

	"keyword-engine/internal/models"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("cache record not found")

// Store is the durable key-value tier. Implementations must be safe for
// concurrent use; mutating operations are atomic per key.
type Store interface {
	// Get returns the record for a key, or ErrNotFound. Expiry is the
	// caller's concern: an expired record is still returned if physically
	// present, so the cache manager can apply lazy expiration uniformly.
	Get(ctx context.Context, key string) (*models.CacheRecord, error)

	// Set writes a record, replacing any previous one and its dependency
	// edges.
	Set(ctx context.Context, rec *models.CacheRecord) error

	// Delete removes records and their dependency edges. Missing keys are
	// not an error.
	Delete(ctx context.Context, keys ...string) error

	// BumpAccess increments a record's access count without touching its
	// TTL. Missing keys are not an error.
	BumpAccess(ctx context.Context, key string) error

	// Dependents returns the keys of entries that directly depend on the
	// given key.
	Dependents(ctx context.Context, key string) ([]string, error)

	// CleanupExpired removes every record past its expiry at the given
	// instant and returns how many were removed.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)

	// CountByType returns the number of live records per data type.
	CountByType(ctx context.Context) (map[models.DataType]int, error)

	// Close releases backend resources.
	Close() error
}
