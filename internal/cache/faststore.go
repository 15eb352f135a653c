package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"keyword-engine/internal/models"
)

// FastStore is the ephemeral in-process tier. It may be empty on restart;
// the durable tier is the source of truth.
type FastStore interface {
	Get(key string) (*models.CacheRecord, bool)
	Set(key string, rec *models.CacheRecord, ttl time.Duration)
	Delete(key string)
	DeleteExpired()
	Flush()
}

// localStore wraps patrickmn/go-cache.
type localStore struct {
	cache *gocache.Cache
}

// NewLocalStore creates an in-memory fast store.
func NewLocalStore(defaultTTL, cleanupInterval time.Duration) FastStore {
	return &localStore{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *localStore) Get(key string) (*models.CacheRecord, bool) {
	v, found := l.cache.Get(key)
	if !found {
		return nil, false
	}
	rec, ok := v.(*models.CacheRecord)
	return rec, ok
}

func (l *localStore) Set(key string, rec *models.CacheRecord, ttl time.Duration) {
	l.cache.Set(key, rec, ttl)
}

func (l *localStore) Delete(key string) {
	l.cache.Delete(key)
}

func (l *localStore) DeleteExpired() {
	l.cache.DeleteExpired()
}

func (l *localStore) Flush() {
	l.cache.Flush()
}
