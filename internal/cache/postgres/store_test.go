package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/aide/internal/cache"
	"github.com/MrWong99/aide/pkg/types"
)

// openTestStore connects to the database named by AIDE_TEST_POSTGRES_DSN,
// wipes the cache table, and returns the store. The test is skipped when the
// variable is not set.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AIDE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AIDE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}

	s, err := Open(context.Background(), dsn, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.pool.Exec(context.Background(), `DELETE FROM cache`); err != nil {
		t.Fatalf("wipe cache table: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(key string, category types.CacheCategory, expiresAt time.Time) *cache.Entry {
	now := time.Now()
	return &cache.Entry{
		Key:   key,
		Query: "what is the weather",
		Response: types.Response{
			Content:    "Sunny, 25C.",
			Provider:   "fast-remote",
			Model:      "gpt-4o-mini",
			TokenCount: 12,
			Reason:     types.ReasonComplete,
			Task:       types.TaskFastQuery,
		},
		Category:       category,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		LastAccessed:   now,
		Embedding:      []float32{0.1, -0.2, 0.3},
		EmbeddingModel: "test-embed-v1",
		Metadata:       map[string]string{"source": "test"},
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testEntry("fp1", types.CategoryWeather, time.Now().Add(time.Hour))
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Response.Content != want.Response.Content {
		t.Errorf("content = %q, want %q", got.Response.Content, want.Response.Content)
	}
	if got.Response.Provider != "fast-remote" || got.Category != types.CategoryWeather {
		t.Errorf("attribution = %q/%q", got.Response.Provider, got.Category)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if got.Query != want.Query || got.Metadata["source"] != "test" {
		t.Errorf("metadata round-trip failed: %q %v", got.Query, got.Metadata)
	}
	if got.AccessCount != 1 {
		t.Errorf("access count after first read = %d, want 1", got.AccessCount)
	}
}

func TestStore_ExpiredDeletedOnAccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, testEntry("fp1", types.CategoryWeather, time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "fp1"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expired entry returned: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("len = %d, expired row should be deleted on access", n)
	}
}

func TestStore_CleanupAndCategoryDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, testEntry("old", types.CategoryGeneral, now.Add(-time.Hour)))
	for i, key := range []string{"a", "b", "c"} {
		e := testEntry(key, types.CategoryNews, time.Time{})
		e.LastAccessed = now.Add(time.Duration(i) * time.Minute)
		s.Put(ctx, e)
	}

	removed, err := s.Cleanup(ctx, now, 2)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want expired row plus one overflow row", removed)
	}

	if n, err := s.DeleteCategory(ctx, types.CategoryNews); err != nil || n != 2 {
		t.Errorf("DeleteCategory = %d, %v, want 2, nil", n, err)
	}
}
