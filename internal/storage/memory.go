package storage

import (
	"context"
	"sync"
	"time"

	"keyword-engine/internal/models"
)

// MemoryStore is an in-process Store. It does not survive restarts, so it is
// only suitable for tests and single-node setups where losing the durable
// tier on restart is acceptable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.CacheRecord
	// reverse dependency index: parent key -> set of dependent keys
	dependents map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*models.CacheRecord),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the record for a key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*models.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.DependsOn = append([]string(nil), rec.DependsOn...)
	return &cp, nil
}

// Set writes a record and rebuilds its dependency edges.
func (s *MemoryStore) Set(ctx context.Context, rec *models.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.records[rec.Key]; ok {
		s.unlinkLocked(rec.Key, old.DependsOn)
	}

	cp := *rec
	cp.DependsOn = append([]string(nil), rec.DependsOn...)
	s.records[rec.Key] = &cp

	for _, parent := range cp.DependsOn {
		if s.dependents[parent] == nil {
			s.dependents[parent] = make(map[string]struct{})
		}
		s.dependents[parent][rec.Key] = struct{}{}
	}
	return nil
}

// Delete removes records and their edges.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.deleteLocked(key)
	}
	return nil
}

// BumpAccess increments a record's access count.
func (s *MemoryStore) BumpAccess(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		rec.AccessCount++
	}
	return nil
}

// Dependents returns the keys directly depending on the given key.
func (s *MemoryStore) Dependents(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.dependents[key]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out, nil
}

// CleanupExpired removes every record past its expiry.
func (s *MemoryStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for key, rec := range s.records {
		if rec.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		s.deleteLocked(key)
	}
	return len(expired), nil
}

// CountByType returns live record counts per data type.
func (s *MemoryStore) CountByType(ctx context.Context) (map[models.DataType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.DataType]int)
	for _, rec := range s.records {
		counts[rec.DataType]++
	}
	return counts, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) deleteLocked(key string) {
	if rec, ok := s.records[key]; ok {
		s.unlinkLocked(key, rec.DependsOn)
		delete(s.records, key)
	}
	delete(s.dependents, key)
}

func (s *MemoryStore) unlinkLocked(key string, parents []string) {
	for _, parent := range parents {
		if set, ok := s.dependents[parent]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.dependents, parent)
			}
		}
	}
}

var _ Store = (*MemoryStore)(nil)
