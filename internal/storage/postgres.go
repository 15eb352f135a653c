package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyword-engine/internal/models"
)

// PostgresStore persists cache records in PostgreSQL, for deployments that
// already run one and want the durable tier alongside their other data.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key    TEXT PRIMARY KEY,
	data_type    TEXT NOT NULL,
	payload      BYTEA NOT NULL,
	created_at   BIGINT NOT NULL,
	expires_at   BIGINT NOT NULL,
	access_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_deps (
	entry_key      TEXT NOT NULL,
	depends_on_key TEXT NOT NULL,
	PRIMARY KEY (entry_key, depends_on_key)
);

CREATE INDEX IF NOT EXISTS idx_cache_deps_parent ON cache_deps(depends_on_key);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries(expires_at);
`

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get returns the record for a key, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (*models.CacheRecord, error) {
	var rec models.CacheRecord
	var createdAt, expiresAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, data_type, payload, created_at, expires_at, access_count
		 FROM cache_entries WHERE cache_key = $1`, key).
		Scan(&rec.Key, &rec.DataType, &rec.Payload, &createdAt, &expiresAt, &rec.AccessCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.ExpiresAt = time.Unix(0, expiresAt)

	rows, err := s.pool.Query(ctx,
		`SELECT depends_on_key FROM cache_deps WHERE entry_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		rec.DependsOn = append(rec.DependsOn, dep)
	}
	return &rec, rows.Err()
}

// Set writes a record and its dependency edges in one transaction.
func (s *PostgresStore) Set(ctx context.Context, rec *models.CacheRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO cache_entries (cache_key, data_type, payload, created_at, expires_at, access_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cache_key) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			access_count = EXCLUDED.access_count`,
		rec.Key, rec.DataType, rec.Payload,
		rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(), rec.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM cache_deps WHERE entry_key = $1`, rec.Key); err != nil {
		return fmt.Errorf("failed to clear cache dependencies: %w", err)
	}
	for _, dep := range rec.DependsOn {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cache_deps (entry_key, depends_on_key) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, rec.Key, dep); err != nil {
			return fmt.Errorf("failed to write cache dependency: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Delete removes records and their dependency edges.
func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM cache_entries WHERE cache_key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM cache_deps WHERE entry_key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete cache dependencies: %w", err)
	}

	return tx.Commit(ctx)
}

// BumpAccess increments a record's access count without extending its TTL.
func (s *PostgresStore) BumpAccess(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1 WHERE cache_key = $1`, key)
	return err
}

// Dependents returns the keys directly depending on the given key.
func (s *PostgresStore) Dependents(ctx context.Context, key string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_key FROM cache_deps WHERE depends_on_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CleanupExpired removes every record past its expiry.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cache_key FROM cache_entries WHERE expires_at <= $1`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to query expired entries: %w", err)
	}

	var expired []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, k)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, expired...); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// CountByType returns live record counts per data type.
func (s *PostgresStore) CountByType(ctx context.Context) (map[models.DataType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data_type, COUNT(*) FROM cache_entries GROUP BY data_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DataType]int)
	for rows.Next() {
		var dt models.DataType
		var n int
		if err := rows.Scan(&dt, &n); err != nil {
			return nil, err
		}
		counts[dt] = n
	}
	return counts, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
