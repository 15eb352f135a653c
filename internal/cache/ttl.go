package cache

import (
	"time"

	"keyword-engine/internal/models"
)

// TTLTable maps each data type to its time-to-live. TTLs are configuration,
// never hardcoded at call sites, so operators can retune without code
// changes.
type TTLTable map[models.DataType]time.Duration

// DefaultTTLTable returns the default per-data-type TTLs.
func DefaultTTLTable() TTLTable {
	return TTLTable{
		models.DataTypeKeywords:    24 * time.Hour,
		models.DataTypeSerp:        12 * time.Hour,
		models.DataTypeBrief:       24 * time.Hour,
		models.DataTypeSuggestions: 48 * time.Hour,
	}
}

// For returns the TTL for a data type, falling back to the keywords TTL for
// types missing from the table.
func (t TTLTable) For(dt models.DataType) time.Duration {
	if ttl, ok := t[dt]; ok && ttl > 0 {
		return ttl
	}
	if ttl, ok := t[models.DataTypeKeywords]; ok && ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}
