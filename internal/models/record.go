package models

import "time"

// CacheRecord is the persisted layout of a cache entry, shared by every
// durable-tier backend.
type CacheRecord struct {
	Key         string    `json:"cache_key"`
	DataType    DataType  `json:"data_type"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
	DependsOn   []string  `json:"depends_on,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given instant.
// A get after ExpiresAt is a miss even before physical removal.
func (r *CacheRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
