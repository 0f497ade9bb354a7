// Package sqlite implements the persistent cache tier on an embedded SQLite
// database via the pure-Go modernc.org/sqlite driver, so the binary needs no
// cgo and no external database server. This is the default persistent
// backend; deployments that already run Postgres can use the postgres
// package instead.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/aide/internal/cache"
	"github.com/MrWong99/aide/pkg/types"
)

// schema is the single-table layout. Timestamps are stored as float seconds
// since the Unix epoch; expires_at 0 means never expires. The embedding
// column holds the query vector as little-endian float32 bytes.
const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key           TEXT PRIMARY KEY,
	value         TEXT NOT NULL,
	category      TEXT NOT NULL,
	created_at    REAL NOT NULL,
	expires_at    REAL NOT NULL DEFAULT 0,
	access_count  INTEGER NOT NULL DEFAULT 0,
	last_accessed REAL NOT NULL,
	embedding     BLOB,
	metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache (expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_category ON cache (category);
`

// Store implements cache.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface assertion.
var _ cache.Store = (*Store)(nil)

// Open opens (creating if necessary) the cache database at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent cache writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite cache: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// rowMeta is the JSON document stored in the metadata column. It carries
// the response attribution alongside caller-supplied metadata so the value
// column stays plain response text.
type rowMeta struct {
	Provider       string            `json:"provider,omitempty"`
	Model          string            `json:"model,omitempty"`
	TokenCount     int               `json:"token_count,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Task           string            `json:"task,omitempty"`
	Query          string            `json:"query,omitempty"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Get implements cache.Store. Expired rows are deleted on access and
// reported as not found.
func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, category, created_at, expires_at, access_count, last_accessed, embedding, metadata
		FROM cache WHERE key = ?`, key)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: get: %w", err)
	}

	now := time.Now()
	if entry.Expired(now) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("sqlite cache: delete expired: %w", err)
		}
		return nil, cache.ErrNotFound
	}

	entry.AccessCount++
	entry.LastAccessed = now
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache SET access_count = access_count + 1, last_accessed = ? WHERE key = ?`,
		toEpoch(now), key); err != nil {
		return nil, fmt.Errorf("sqlite cache: touch: %w", err)
	}
	return entry, nil
}

// Put implements cache.Store.
func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	meta, err := json.Marshal(rowMeta{
		Provider:       entry.Response.Provider,
		Model:          entry.Response.Model,
		TokenCount:     entry.Response.TokenCount,
		Reason:         string(entry.Response.Reason),
		Task:           string(entry.Response.Task),
		Query:          entry.Query,
		EmbeddingModel: entry.EmbeddingModel,
		Extra:          entry.Metadata,
	})
	if err != nil {
		return fmt.Errorf("sqlite cache: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, category, created_at, expires_at, access_count, last_accessed, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			embedding = excluded.embedding,
			metadata = excluded.metadata`,
		entry.Key,
		entry.Response.Content,
		string(entry.Category),
		toEpoch(entry.CreatedAt),
		toEpoch(entry.ExpiresAt),
		entry.AccessCount,
		toEpoch(entry.LastAccessed),
		cache.EncodeVector(entry.Embedding),
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("sqlite cache: put: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: delete: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCategory implements cache.Store.
func (s *Store) DeleteCategory(ctx context.Context, category types.CacheCategory) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE category = ?`, string(category))
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: delete category: %w", err)
	}
	return res.RowsAffected()
}

// Cleanup implements cache.Store: expired rows go first, then the
// oldest-by-last-accessed rows beyond maxEntries.
func (s *Store) Cleanup(ctx context.Context, now time.Time, maxEntries int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache WHERE expires_at > 0 AND expires_at <= ?`, toEpoch(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: cleanup expired: %w", err)
	}
	removed, _ := res.RowsAffected()

	if maxEntries <= 0 {
		return removed, nil
	}
	count, err := s.Len(ctx)
	if err != nil {
		return removed, err
	}
	if excess := count - int64(maxEntries); excess > 0 {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM cache WHERE key IN (
				SELECT key FROM cache ORDER BY last_accessed ASC LIMIT ?
			)`, excess)
		if err != nil {
			return removed, fmt.Errorf("sqlite cache: cleanup overflow: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

// Len implements cache.Store.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite cache: count: %w", err)
	}
	return count, nil
}

// Close implements cache.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry reads one cache row.
func scanEntry(row *sql.Row) (*cache.Entry, error) {
	var (
		entry        cache.Entry
		category     string
		createdAt    float64
		expiresAt    float64
		lastAccessed float64
		embedding    []byte
		metaJSON     sql.NullString
	)
	if err := row.Scan(&entry.Key, &entry.Response.Content, &category,
		&createdAt, &expiresAt, &entry.AccessCount, &lastAccessed,
		&embedding, &metaJSON); err != nil {
		return nil, err
	}

	entry.Category = types.CacheCategory(category)
	entry.CreatedAt = fromEpoch(createdAt)
	entry.ExpiresAt = fromEpoch(expiresAt)
	entry.LastAccessed = fromEpoch(lastAccessed)

	vec, err := cache.DecodeVector(embedding)
	if err != nil {
		return nil, err
	}
	entry.Embedding = vec

	if metaJSON.Valid && metaJSON.String != "" {
		var meta rowMeta
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		entry.Query = meta.Query
		entry.EmbeddingModel = meta.EmbeddingModel
		entry.Metadata = meta.Extra
		entry.Response.Provider = meta.Provider
		entry.Response.Model = meta.Model
		entry.Response.TokenCount = meta.TokenCount
		entry.Response.Reason = types.TerminalReason(meta.Reason)
		entry.Response.Task = types.TaskType(meta.Task)
	}
	return &entry, nil
}

// toEpoch converts a time to float seconds since the Unix epoch; the zero
// time maps to 0 (never expires).
func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// fromEpoch is the inverse of toEpoch.
func fromEpoch(v float64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v*float64(time.Second)))
}
