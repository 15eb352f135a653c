package cache

import (
	"sync"
	"time"

	"keyword-engine/internal/models"
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits          uint64                  `json:"hits"`
	Misses        uint64                  `json:"misses"`
	HitRate       float64                 `json:"hit_rate"`
	EntriesByType map[models.DataType]int `json:"entries_by_type"`
	AvgLatencyMs  float64                 `json:"avg_latency_ms"`
}

// statsTracker records hit/miss counts and lookup latencies. Fields are
// guarded by the mutex; the snapshot is taken under the same lock so reads
// are consistent.
type statsTracker struct {
	mu           sync.Mutex
	hits         uint64
	misses       uint64
	lookups      uint64
	totalLatency time.Duration
}

func (s *statsTracker) recordHit(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.lookups++
	s.totalLatency += latency
}

func (s *statsTracker) recordMiss(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	s.lookups++
	s.totalLatency += latency
}

func (s *statsTracker) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:   s.hits,
		Misses: s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	if s.lookups > 0 {
		stats.AvgLatencyMs = float64(s.totalLatency.Microseconds()) / float64(s.lookups) / 1000
	}
	return stats
}
