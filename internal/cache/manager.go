// Package cache implements the two-tier cache manager: a fast in-process
// tier over a durable backend, with deterministic key derivation,
// per-data-type TTLs, dependency-aware cascade invalidation, and
// single-flight deduplication of concurrent misses.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/models"
	"keyword-engine/internal/storage"
)

// CacheStatus reports how a GetOrGenerate call was satisfied.
type CacheStatus string

const (
	StatusHit  CacheStatus = "hit"
	StatusMiss CacheStatus = "miss"
)

// GenerateFunc produces a payload on a cache miss. It is invoked at most
// once per key among concurrent missers.
type GenerateFunc func(ctx context.Context) (models.Payload, error)

// MetricsRecorder receives cache lookup outcomes. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	CacheLookup(dt models.DataType, hit bool)
}

// Config holds cache manager settings.
type Config struct {
	TTLs TTLTable
	// FastTierCap bounds the TTL of fast-tier copies so a restart-scoped
	// tier never serves an entry much longer than the durable truth.
	FastTierCap     time.Duration
	CleanupInterval time.Duration
	Logger          logging.Logger
	Metrics         MetricsRecorder
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Manager coordinates both tiers. All mutating operations are atomic per
// key: the durable backend serializes per-key writes and the fast tier is
// internally locked, so no process-wide lock is ever held.
type Manager struct {
	fast    FastStore
	durable storage.Store
	ttls    TTLTable
	fastCap time.Duration
	logger  logging.Logger
	metrics MetricsRecorder
	now     func() time.Time

	flight singleflight.Group
	stats  statsTracker
}

// NewManager creates a cache manager over the given tiers.
func NewManager(fast FastStore, durable storage.Store, config Config) *Manager {
	if config.TTLs == nil {
		config.TTLs = DefaultTTLTable()
	}
	if config.FastTierCap <= 0 {
		config.FastTierCap = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		fast:    fast,
		durable: durable,
		ttls:    config.TTLs,
		fastCap: config.FastTierCap,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}
}

// Get looks a key up in the fast tier, then the durable tier, promoting
// durable hits. Entries past their expiry are treated as misses and lazily
// deleted; payloads that fail to deserialize are treated the same way so
// corruption self-heals via regeneration.
func (m *Manager) Get(ctx context.Context, key string) (models.Payload, bool) {
	start := m.now()

	payload, ok := m.lookup(ctx, key)

	latency := m.now().Sub(start)
	if ok {
		m.stats.recordHit(latency)
	} else {
		m.stats.recordMiss(latency)
	}
	if m.metrics != nil {
		m.metrics.CacheLookup(dataTypeOf(key), ok)
	}
	return payload, ok
}

func (m *Manager) lookup(ctx context.Context, key string) (models.Payload, bool) {
	now := m.now()

	if rec, found := m.fast.Get(key); found {
		if rec.Expired(now) {
			m.dropEntry(ctx, key)
			return nil, false
		}
		payload, err := models.UnmarshalPayload(rec.DataType, rec.Payload)
		if err != nil {
			m.logger.Warn("dropping corrupt cache entry",
				logging.String("key", key),
				logging.String("error", err.Error()))
			m.dropEntry(ctx, key)
			return nil, false
		}
		if err := m.durable.BumpAccess(ctx, key); err != nil {
			m.logger.Debug("access bump failed", logging.String("key", key))
		}
		return payload, true
	}

	rec, err := m.durable.Get(ctx, key)
	if err != nil {
		if err != storage.ErrNotFound {
			// A record that cannot even be read is corrupt; self-heal.
			m.logger.Warn("dropping unreadable cache entry",
				logging.String("key", key),
				logging.String("error", err.Error()))
			m.dropEntry(ctx, key)
		}
		return nil, false
	}
	if rec.Expired(now) {
		m.dropEntry(ctx, key)
		return nil, false
	}

	payload, err := models.UnmarshalPayload(rec.DataType, rec.Payload)
	if err != nil {
		corrupt := apperrors.CorruptEntryError(key, err)
		m.logger.Warn("dropping corrupt cache entry", logging.String("error", corrupt.Error()))
		m.dropEntry(ctx, key)
		return nil, false
	}

	// Promote to the fast tier for the remaining lifetime, capped.
	m.fast.Set(key, rec, m.fastTTL(rec.ExpiresAt.Sub(now)))
	if err := m.durable.BumpAccess(ctx, key); err != nil {
		m.logger.Debug("access bump failed", logging.String("key", key))
	}
	return payload, true
}

// Set writes a payload to both tiers. The TTL comes from the per-data-type
// table; dependency edges may only point at entries of an earlier pipeline
// stage, which keeps the graph acyclic by construction.
func (m *Manager) Set(ctx context.Context, key string, payload models.Payload, dependsOn ...string) error {
	dt := payload.CacheDataType()
	if !dt.Valid() {
		return apperrors.ValidationError("unknown cache data type").WithContext("data_type", string(dt))
	}
	for _, dep := range dependsOn {
		depStage := StageOf(dep)
		if depStage < 0 {
			return apperrors.ValidationError("malformed dependency key").WithContext("depends_on", dep)
		}
		if depStage >= dt.Stage() {
			return apperrors.ValidationError("dependency must target an earlier pipeline stage").
				WithContext("key", key).
				WithContext("depends_on", dep)
		}
	}

	data, err := models.MarshalPayload(payload)
	if err != nil {
		return apperrors.InternalError("failed to encode cache payload", err)
	}

	now := m.now()
	ttl := m.ttls.For(dt)
	rec := &models.CacheRecord{
		Key:       key,
		DataType:  dt,
		Payload:   data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		DependsOn: dependsOn,
	}

	// Durable tier first: it is the source of truth.
	if err := m.durable.Set(ctx, rec); err != nil {
		return apperrors.InternalError("failed to write durable cache tier", err)
	}
	m.fast.Set(key, rec, m.fastTTL(ttl))
	return nil
}

// Invalidate deletes a key and, transitively via dependency edges, every
// entry that depends on it. It is idempotent: invalidating an absent key
// returns an empty set, not an error.
func (m *Manager) Invalidate(ctx context.Context, key string) ([]string, error) {
	removed := []string{}
	visited := map[string]bool{key: true}
	queue := []string{key}

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]

		dependents, err := m.durable.Dependents(ctx, k)
		if err != nil {
			return removed, apperrors.InternalError("failed to traverse cache dependencies", err)
		}
		for _, dep := range dependents {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}

		_, err = m.durable.Get(ctx, k)
		existed := err == nil
		_, inFast := m.fast.Get(k)

		m.fast.Delete(k)
		if err := m.durable.Delete(ctx, k); err != nil {
			return removed, apperrors.InternalError("failed to delete cache entry", err)
		}
		if existed || inFast {
			removed = append(removed, k)
		}
	}

	if len(removed) > 0 {
		m.logger.Info("cache invalidation cascade",
			logging.String("root", key),
			logging.Int("removed", len(removed)))
	}
	return removed, nil
}

// GetOrGenerate returns the cached payload for a key, or generates it. When
// N concurrent callers miss on the same key, exactly one generation runs;
// the rest await and share its result. A shared generation failure
// propagates to every waiter as the same error; waiters are not retried on
// each other's behalf.
func (m *Manager) GetOrGenerate(ctx context.Context, key string, dependsOn []string, generate GenerateFunc) (models.Payload, CacheStatus, error) {
	if payload, ok := m.Get(ctx, key); ok {
		return payload, StatusHit, nil
	}

	v, err, _ := m.flight.Do(key, func() (interface{}, error) {
		// Another flight may have completed between our miss and this
		// call; a second lookup avoids a redundant upstream hit.
		if payload, ok := m.Get(ctx, key); ok {
			return payload, nil
		}

		payload, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Set(ctx, key, payload, dependsOn...); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, StatusMiss, err
	}
	return v.(models.Payload), StatusMiss, nil
}

// CleanupExpired sweeps both tiers for entries past their expiry and
// returns how many durable records were removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	m.fast.DeleteExpired()
	removed, err := m.durable.CleanupExpired(ctx, m.now())
	if err != nil {
		return removed, apperrors.InternalError("cache sweep failed", err)
	}
	if removed > 0 {
		m.logger.Info("cache sweep complete", logging.Int("removed", removed))
	}
	return removed, nil
}

// Stats returns hit/miss counters, the live entry count per data type, and
// the average lookup latency.
func (m *Manager) Stats(ctx context.Context) Stats {
	stats := m.stats.snapshot()

	counts, err := m.durable.CountByType(ctx)
	if err != nil {
		m.logger.Warn("failed to count cache entries", logging.String("error", err.Error()))
		counts = map[models.DataType]int{}
	}
	stats.EntriesByType = counts
	return stats
}

func (m *Manager) dropEntry(ctx context.Context, key string) {
	m.fast.Delete(key)
	if err := m.durable.Delete(ctx, key); err != nil {
		m.logger.Warn("lazy delete failed", logging.String("key", key))
	}
}

func (m *Manager) fastTTL(ttl time.Duration) time.Duration {
	if ttl > m.fastCap {
		return m.fastCap
	}
	return ttl
}

func dataTypeOf(key string) models.DataType {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return models.DataType(key[:i])
		}
	}
	return ""
}
