// Package config loads application settings from environment variables with
// sensible defaults and validates them before the server starts.
//
// Environment Variables:
//
// Application settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Cache configuration:
//   - STORAGE_TYPE: Durable tier backend - "sqlite", "postgres", "redis",
//     or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./keyword_engine.db)
//   - POSTGRES_URL: PostgreSQL connection string (required for postgres)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number (default: 0)
//   - CACHE_TTL_KEYWORDS / _SERP / _BRIEF / _SUGGESTIONS: per-data-type TTLs
//     (defaults: 24h, 12h, 24h, 48h)
//   - CACHE_FAST_TTL_CAP: max fast-tier residency (default: 5m)
//   - CACHE_SWEEP_SCHEDULE: cron spec for the expiry sweep (default: every
//     10 minutes)
//
// Rate limiting:
//   - RATELIMIT_BACKEND: "local" or "distributed" (default: local;
//     distributed requires Redis)
//   - THROTTLE_RPS: per-client-IP request rate for the HTTP throttle
//     (default: 20)
//   - THROTTLE_BURST: per-client-IP burst (default: 40)
//
// Upstream providers:
//   - GENERATOR_URL / GENERATOR_API_KEY: candidate generation service
//   - ENRICHER_URL / ENRICHER_API_KEY: search-results provider
//   - ENRICH_TIMEOUT: enrichment phase deadline (default: 10s)
//   - ENRICH_TOP_K: candidates enriched per batch (default: 5)
//
// Scoring:
//   - SCORE_VOLUME_WEIGHT / SCORE_COMPETITION_WEIGHT: formula weights
//     (defaults: 0.4 / 0.6)
//   - SCORE_QUICK_WIN_FLOOR: minimum score for a quick-win flag (default: 55)
//
// Plan quotas (requests per window, generation class):
//   - QUOTA_FREE_GEN_MINUTE / _HOUR / _DAY: free-plan generation limits
//     (defaults: 5 / 50 / 200)
//
// Intent classification:
//   - BRAND_TERMS: comma-separated brand names treated as navigational
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"keyword-engine/internal/cache"
	"keyword-engine/internal/models"
	"keyword-engine/internal/ratelimit"
	"keyword-engine/internal/scoring"
	"keyword-engine/internal/storage"
)

// Config holds all application settings.
type Config struct {
	Port     string
	LogLevel string

	StorageType   storage.Type
	DatabasePath  string
	PostgresURL   string
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	CacheTTLs     cache.TTLTable
	FastTierCap   time.Duration
	SweepSchedule string

	RateLimitBackend ratelimit.Backend
	ThrottleRPS      float64
	ThrottleBurst    int

	GeneratorURL    string
	GeneratorAPIKey string
	EnricherURL     string
	EnricherAPIKey  string
	EnrichTimeout   time.Duration
	EnrichTopK      int

	ScoringWeights scoring.Weights
	Quotas         ratelimit.QuotaTable

	BrandTerms []string
}

// Load reads configuration from the environment. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorageType:   storage.Type(getEnv("STORAGE_TYPE", "sqlite")),
		DatabasePath:  getEnv("DATABASE_PATH", "./keyword_engine.db"),
		PostgresURL:   getEnv("POSTGRES_URL", ""),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		CacheTTLs: cache.TTLTable{
			models.DataTypeKeywords:    getDurationEnv("CACHE_TTL_KEYWORDS", 24*time.Hour),
			models.DataTypeSerp:        getDurationEnv("CACHE_TTL_SERP", 12*time.Hour),
			models.DataTypeBrief:       getDurationEnv("CACHE_TTL_BRIEF", 24*time.Hour),
			models.DataTypeSuggestions: getDurationEnv("CACHE_TTL_SUGGESTIONS", 48*time.Hour),
		},
		FastTierCap:   getDurationEnv("CACHE_FAST_TTL_CAP", 5*time.Minute),
		SweepSchedule: getEnv("CACHE_SWEEP_SCHEDULE", "@every 10m"),

		RateLimitBackend: ratelimit.Backend(getEnv("RATELIMIT_BACKEND", "local")),
		ThrottleRPS:      getFloatEnv("THROTTLE_RPS", 20),
		ThrottleBurst:    getIntEnv("THROTTLE_BURST", 40),

		GeneratorURL:    getEnv("GENERATOR_URL", ""),
		GeneratorAPIKey: getEnv("GENERATOR_API_KEY", ""),
		EnricherURL:     getEnv("ENRICHER_URL", ""),
		EnricherAPIKey:  getEnv("ENRICHER_API_KEY", ""),
		EnrichTimeout:   getDurationEnv("ENRICH_TIMEOUT", 10*time.Second),
		EnrichTopK:      getIntEnv("ENRICH_TOP_K", 5),

		ScoringWeights: loadWeights(),
		Quotas:         loadQuotas(),

		BrandTerms: splitList(getEnv("BRAND_TERMS", "")),
	}
}

func loadWeights() scoring.Weights {
	w := scoring.DefaultWeights()
	w.VolumeWeight = getFloatEnv("SCORE_VOLUME_WEIGHT", w.VolumeWeight)
	w.CompetitionWeight = getFloatEnv("SCORE_COMPETITION_WEIGHT", w.CompetitionWeight)
	w.QuickWinFloor = getIntEnv("SCORE_QUICK_WIN_FLOOR", w.QuickWinFloor)
	return w
}

func loadQuotas() ratelimit.QuotaTable {
	table := ratelimit.DefaultQuotaTable()
	gen := table[ratelimit.PlanFree][ratelimit.OpGeneration]
	gen[ratelimit.WindowMinute] = getIntEnv("QUOTA_FREE_GEN_MINUTE", gen[ratelimit.WindowMinute])
	gen[ratelimit.WindowHour] = getIntEnv("QUOTA_FREE_GEN_HOUR", gen[ratelimit.WindowHour])
	gen[ratelimit.WindowDay] = getIntEnv("QUOTA_FREE_GEN_DAY", gen[ratelimit.WindowDay])
	table[ratelimit.PlanFree][ratelimit.OpGeneration] = gen
	return table
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.StorageType {
	case storage.TypeMemory, storage.TypeSQLite, storage.TypePostgres, storage.TypeRedis:
	default:
		return fmt.Errorf("STORAGE_TYPE must be 'memory', 'sqlite', 'postgres', or 'redis'")
	}
	if c.StorageType == storage.TypeSQLite && c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required when using sqlite storage")
	}
	if c.StorageType == storage.TypePostgres && c.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required when using postgres storage")
	}
	if c.StorageType == storage.TypeRedis && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when using redis storage")
	}

	switch c.RateLimitBackend {
	case ratelimit.BackendLocal:
	case ratelimit.BackendDistributed:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when using the distributed rate limiter")
		}
	default:
		return fmt.Errorf("RATELIMIT_BACKEND must be 'local' or 'distributed'")
	}

	if c.GeneratorURL == "" {
		return fmt.Errorf("GENERATOR_URL is required")
	}
	for dt, ttl := range c.CacheTTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL for %s must be positive", dt)
		}
	}
	if c.EnrichTimeout <= 0 {
		return fmt.Errorf("ENRICH_TIMEOUT must be positive")
	}
	if c.ThrottleRPS <= 0 || c.ThrottleBurst <= 0 {
		return fmt.Errorf("THROTTLE_RPS and THROTTLE_BURST must be positive")
	}
	if c.ScoringWeights.VolumeWeight < 0 || c.ScoringWeights.CompetitionWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("invalid quota table: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
