package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keyword-engine/internal/models"
)

// SQLiteStore persists cache records in a local SQLite database. This is the
// default durable tier: it survives restarts without requiring any external
// service.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key    TEXT PRIMARY KEY,
	data_type    TEXT NOT NULL,
	payload      BLOB NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_deps (
	entry_key      TEXT NOT NULL,
	depends_on_key TEXT NOT NULL,
	PRIMARY KEY (entry_key, depends_on_key)
);

CREATE INDEX IF NOT EXISTS idx_cache_deps_parent ON cache_deps(depends_on_key);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries(expires_at);
`

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store at
// the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the record for a key, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*models.CacheRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cache_key, data_type, payload, created_at, expires_at, access_count
		 FROM cache_entries WHERE cache_key = ?`, key)

	var rec models.CacheRecord
	var createdAt, expiresAt int64
	if err := row.Scan(&rec.Key, &rec.DataType, &rec.Payload, &createdAt, &expiresAt, &rec.AccessCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.ExpiresAt = time.Unix(0, expiresAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT depends_on_key FROM cache_deps WHERE entry_key = ?`, key)
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
func (s *SQLiteStore) Set(ctx context.Context, rec *models.CacheRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, data_type, payload, created_at, expires_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			data_type = excluded.data_type,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			access_count = excluded.access_count`,
		rec.Key, rec.DataType, rec.Payload,
		rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(), rec.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_deps WHERE entry_key = ?`, rec.Key); err != nil {
		return fmt.Errorf("failed to clear cache dependencies: %w", err)
	}
	for _, dep := range rec.DependsOn {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_deps (entry_key, depends_on_key) VALUES (?, ?)`,
			rec.Key, dep); err != nil {
			return fmt.Errorf("failed to write cache dependency: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes records and their dependency edges.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_deps WHERE entry_key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete cache dependencies: %w", err)
	}

	return tx.Commit()
}

// BumpAccess increments a record's access count without extending its TTL.
func (s *SQLiteStore) BumpAccess(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1 WHERE cache_key = ?`, key)
	return err
}

// Dependents returns the keys directly depending on the given key.
func (s *SQLiteStore) Dependents(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_key FROM cache_deps WHERE depends_on_key = ?`, key)
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
func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key FROM cache_entries WHERE expires_at <= ?`, now.UnixNano())
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
func (s *SQLiteStore) CountByType(ctx context.Context) (map[models.DataType]int, error) {
	rows, err := s.db.QueryContext(ctx,
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

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
