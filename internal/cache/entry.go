package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/aide/pkg/types"
)

// ErrNotFound is returned by Store.Get when no entry exists for the key.
var ErrNotFound = errors.New("cache: entry not found")

// Cache tier names reported on responses and in stats.
const (
	TierTemplate   = "template"
	TierMemory     = "memory"
	TierPersistent = "persistent"
	TierSemantic   = "semantic"
)

// Entry is one cached response, keyed by request fingerprint.
type Entry struct {
	// Key is the request fingerprint.
	Key string

	// Query is the raw text of the request's last user message. Used for
	// semantic indexing, which matches on wording rather than fingerprints.
	Query string

	// Response is the cached response body and attribution.
	Response types.Response

	// Category controls TTL and cacheability.
	Category types.CacheCategory

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt is the absolute expiry. Zero means never expires.
	ExpiresAt time.Time

	// AccessCount counts reads since creation.
	AccessCount int64

	// LastAccessed is the time of the most recent read.
	LastAccessed time.Time

	// Embedding is the query's embedding vector, when semantic indexing
	// produced one.
	Embedding []float32

	// EmbeddingModel identifies the model that produced Embedding. Vectors
	// from different models are never compared.
	EmbeddingModel string

	// Metadata carries optional caller-supplied key/value pairs.
	Metadata map[string]string
}

// Expired reports whether the entry is past its expiry at now. Entries are
// observable only while now < ExpiresAt; a zero ExpiresAt never expires.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is the persistent cache tier. Implementations are safe for
// concurrent use and treat each call as an isolated unit of work.
type Store interface {
	// Get returns the entry for key, incrementing its access stats.
	// Returns ErrNotFound when no live entry exists.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or replaces the entry for entry.Key.
	Put(ctx context.Context, entry *Entry) error

	// Delete removes the entry for key. Deleting a missing key is not an
	// error; the returned count is 0 or 1.
	Delete(ctx context.Context, key string) (int64, error)

	// DeleteCategory removes every entry in the category and returns the
	// number removed.
	DeleteCategory(ctx context.Context, category types.CacheCategory) (int64, error)

	// Cleanup removes expired entries and, when the table holds more than
	// maxEntries rows, the oldest-by-last-accessed beyond that bound.
	// Returns the number of rows removed.
	Cleanup(ctx context.Context, now time.Time, maxEntries int) (int64, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// EncodeVector serializes an embedding vector as little-endian float32
// bytes, the on-disk layout of the embedding column.
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeVector deserializes a little-endian float32 blob produced by
// EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("cache: embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return out, nil
}
