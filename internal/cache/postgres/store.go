// Package postgres implements the persistent cache tier on PostgreSQL with
// the pgvector extension. The embedding column is a native vector type, so a
// deployment that already runs Postgres can query the cached vectors with
// SQL (cosine distance via the <=> operator) in addition to the in-process
// semantic index.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/aide/internal/cache"
	"github.com/MrWong99/aide/pkg/types"
)

// Store implements cache.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface assertion.
var _ cache.Store = (*Store)(nil)

// Open establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and creates the cache table if needed.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g. 1536 for text-embedding-3-small). Changing it after
// the first run requires a manual schema change.
func Open(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("postgres cache: embedding dimensions must be positive")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres cache: ping: %w", err)
	}
	if err := migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres cache: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// migrate creates the extension, table, and indices if they do not exist.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cache (
			key           TEXT PRIMARY KEY,
			value         TEXT NOT NULL,
			category      TEXT NOT NULL,
			created_at    DOUBLE PRECISION NOT NULL,
			expires_at    DOUBLE PRECISION NOT NULL DEFAULT 0,
			access_count  BIGINT NOT NULL DEFAULT 0,
			last_accessed DOUBLE PRECISION NOT NULL,
			embedding     vector(%d),
			metadata      JSONB
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache (expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_category ON cache (category)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rowMeta is the JSONB metadata document; it mirrors the SQLite layout so
// the two backends stay interchangeable.
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
	row := s.pool.QueryRow(ctx, `
		SELECT key, value, category, created_at, expires_at, access_count, last_accessed, embedding, metadata
		FROM cache WHERE key = $1`, key)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres cache: get: %w", err)
	}

	now := time.Now()
	if entry.Expired(now) {
		if _, err := s.pool.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key); err != nil {
			return nil, fmt.Errorf("postgres cache: delete expired: %w", err)
		}
		return nil, cache.ErrNotFound
	}

	entry.AccessCount++
	entry.LastAccessed = now
	if _, err := s.pool.Exec(ctx,
		`UPDATE cache SET access_count = access_count + 1, last_accessed = $1 WHERE key = $2`,
		toEpoch(now), key); err != nil {
		return nil, fmt.Errorf("postgres cache: touch: %w", err)
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
		return fmt.Errorf("postgres cache: marshal metadata: %w", err)
	}

	var vec *pgvector.Vector
	if len(entry.Embedding) > 0 {
		v := pgvector.NewVector(entry.Embedding)
		vec = &v
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cache (key, value, category, created_at, expires_at, access_count, last_accessed, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			value         = EXCLUDED.value,
			category      = EXCLUDED.category,
			created_at    = EXCLUDED.created_at,
			expires_at    = EXCLUDED.expires_at,
			access_count  = EXCLUDED.access_count,
			last_accessed = EXCLUDED.last_accessed,
			embedding     = EXCLUDED.embedding,
			metadata      = EXCLUDED.metadata`,
		entry.Key,
		entry.Response.Content,
		string(entry.Category),
		toEpoch(entry.CreatedAt),
		toEpoch(entry.ExpiresAt),
		entry.AccessCount,
		toEpoch(entry.LastAccessed),
		vec,
		meta,
	)
	if err != nil {
		return fmt.Errorf("postgres cache: put: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key)
	if err != nil {
		return 0, fmt.Errorf("postgres cache: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCategory implements cache.Store.
func (s *Store) DeleteCategory(ctx context.Context, category types.CacheCategory) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache WHERE category = $1`, string(category))
	if err != nil {
		return 0, fmt.Errorf("postgres cache: delete category: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Cleanup implements cache.Store: expired rows go first, then the
// oldest-by-last-accessed rows beyond maxEntries.
func (s *Store) Cleanup(ctx context.Context, now time.Time, maxEntries int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache WHERE expires_at > 0 AND expires_at <= $1`, toEpoch(now))
	if err != nil {
		return 0, fmt.Errorf("postgres cache: cleanup expired: %w", err)
	}
	removed := tag.RowsAffected()

	if maxEntries <= 0 {
		return removed, nil
	}
	count, err := s.Len(ctx)
	if err != nil {
		return removed, err
	}
	if excess := count - int64(maxEntries); excess > 0 {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM cache WHERE key IN (
				SELECT key FROM cache ORDER BY last_accessed ASC LIMIT $1
			)`, excess)
		if err != nil {
			return removed, fmt.Errorf("postgres cache: cleanup overflow: %w", err)
		}
		removed += tag.RowsAffected()
	}
	return removed, nil
}

// Len implements cache.Store.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres cache: count: %w", err)
	}
	return count, nil
}

// Close implements cache.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanEntry reads one cache row.
func scanEntry(row pgx.Row) (*cache.Entry, error) {
	var (
		entry        cache.Entry
		category     string
		createdAt    float64
		expiresAt    float64
		lastAccessed float64
		vec          *pgvector.Vector
		metaJSON     []byte
	)
	if err := row.Scan(&entry.Key, &entry.Response.Content, &category,
		&createdAt, &expiresAt, &entry.AccessCount, &lastAccessed,
		&vec, &metaJSON); err != nil {
		return nil, err
	}

	entry.Category = types.CacheCategory(category)
	entry.CreatedAt = fromEpoch(createdAt)
	entry.ExpiresAt = fromEpoch(expiresAt)
	entry.LastAccessed = fromEpoch(lastAccessed)
	if vec != nil {
		entry.Embedding = vec.Slice()
	}

	if len(metaJSON) > 0 {
		var meta rowMeta
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
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
