package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	embmock "github.com/MrWong99/aide/pkg/provider/embeddings/mock"
	"github.com/MrWong99/aide/pkg/types"
)

// fakeStore is an in-memory Store used to exercise the persistent tier
// without a database.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	getErr error
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*Entry)}
}

func (s *fakeStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	cp := *entry
	s.entries[entry.Key] = &cp
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return 0, nil
	}
	delete(s.entries, key)
	return 1, nil
}

func (s *fakeStore) DeleteCategory(_ context.Context, category types.CacheCategory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if e.Category == category {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Cleanup(_ context.Context, now time.Time, maxEntries int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *fakeStore) Close() error { return nil }

func newResponse(content string) *types.Response {
	return &types.Response{
		Content:  content,
		Provider: "fast-remote",
		Model:    "gpt-4o-mini",
		Reason:   types.ReasonComplete,
	}
}

func TestTemplates_Lookup(t *testing.T) {
	tpl := NewTemplates("Aide")
	tpl.now = func() time.Time { return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) }

	resp, ok := tpl.Lookup("Hello!")
	if !ok {
		t.Fatal("greeting should hit the template tier")
	}
	if resp.Content != "Good morning!" {
		t.Errorf("content = %q, want time-of-day greeting", resp.Content)
	}
	if !resp.Cached || resp.CacheTier != TierTemplate {
		t.Error("template response must be marked cached with the template tier")
	}

	if resp, ok := tpl.Lookup("what time is it?"); !ok || !strings.Contains(resp.Content, "9:00 AM") {
		t.Errorf("time template = %v, %v", resp, ok)
	}
	if resp, ok := tpl.Lookup("What can you do"); !ok || !strings.Contains(resp.Content, "Aide") {
		t.Errorf("capability template should name the assistant, got %v, %v", resp, ok)
	}
	if _, ok := tpl.Lookup("summarize this article for me"); ok {
		t.Error("free-form prompt must not hit a template")
	}
}

func TestCache_L1HitAndTTL(t *testing.T) {
	c := New()
	defer c.Close()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	l := Lookup{Fingerprint: "fp1", Query: "what's the weather in chicago", Category: types.CategoryWeather}
	c.Put(context.Background(), l, newResponse("Sunny, 25C."), nil)

	resp, ok := c.Get(context.Background(), l)
	if !ok {
		t.Fatal("expected L1 hit")
	}
	if !resp.Cached || resp.CacheTier != TierMemory {
		t.Errorf("tier = %q, want memory", resp.CacheTier)
	}

	// Weather TTL is 30 minutes; exactly at the boundary counts as expired.
	now = now.Add(30 * time.Minute)
	if _, ok := c.Get(context.Background(), l); ok {
		t.Error("entry at TTL boundary must be treated as expired")
	}
}

func TestCache_L2PromotesToL1(t *testing.T) {
	store := newFakeStore()
	c := New(WithStore(store), WithCleanupInterval(-1))
	defer c.Close()

	l := Lookup{Fingerprint: "fp2", Query: "capital of france", Category: types.CategoryGeneral}
	c.Put(context.Background(), l, newResponse("Paris."), nil)

	// Drop the L1 copy so the next read must come from the store.
	c.l1.delete("fp2")

	resp, ok := c.Get(context.Background(), l)
	if !ok || resp.CacheTier != TierPersistent {
		t.Fatalf("expected persistent hit, got %v, %v", resp, ok)
	}

	// Promotion: the read after an L2 hit is served from memory.
	resp, ok = c.Get(context.Background(), l)
	if !ok || resp.CacheTier != TierMemory {
		t.Errorf("expected promoted memory hit, got %v, %v", resp, ok)
	}
}

func TestCache_StoreErrorsDegradeToMiss(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("disk on fire")
	store.putErr = errors.New("disk on fire")
	c := New(WithStore(store), WithCleanupInterval(-1))
	defer c.Close()

	l := Lookup{Fingerprint: "fp3", Query: "anything", Category: types.CategoryGeneral}
	c.Put(context.Background(), l, newResponse("x"), nil) // write silently dropped

	c.l1.delete("fp3")
	if _, ok := c.Get(context.Background(), l); ok {
		t.Error("store failure must degrade to a miss, not surface")
	}
}

func TestCache_WritePolicy(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	cases := []struct {
		name     string
		category types.CacheCategory
		reason   types.TerminalReason
	}{
		{"system action never cached", types.CategorySystemAction, types.ReasonComplete},
		{"error responses never cached", types.CategoryGeneral, types.ReasonError},
		{"interrupted responses never cached", types.CategoryGeneral, types.ReasonInterrupted},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			l := Lookup{Fingerprint: "fp-" + tt.name, Query: "q", Category: tt.category}
			resp := newResponse("x")
			resp.Reason = tt.reason
			c.Put(ctx, l, resp, nil)
			if _, ok := c.Get(ctx, l); ok {
				t.Error("entry must not be cached")
			}
		})
	}
	if got := c.Stats().Rejected; got != 3 {
		t.Errorf("rejected = %d, want 3", got)
	}
}

func TestCache_SemanticHit(t *testing.T) {
	embedder := &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			if strings.Contains(text, "weather") {
				return []float32{1, 0.05, 0}
			}
			return []float32{0, 1, 0}
		},
		DimensionsValue: 3,
		ModelIDValue:    "test-embed-v1",
	}
	c := New(WithEmbedder(embedder, 0, 0))
	defer c.Close()
	ctx := context.Background()

	stored := Lookup{Fingerprint: "fp-w1", Query: "What is the weather?", Category: types.CategoryWeather}
	c.Put(ctx, stored, newResponse("Sunny, 25C."), nil)

	// Different wording, different fingerprint: only the semantic tier can hit.
	similar := Lookup{Fingerprint: "fp-w2", Query: "what is the weather today", Category: types.CategoryWeather}
	resp, ok := c.Get(ctx, similar)
	if !ok {
		t.Fatal("expected semantic hit")
	}
	if resp.CacheTier != TierSemantic || !resp.Cached {
		t.Errorf("tier = %q, want semantic", resp.CacheTier)
	}
	if resp.Content != "Sunny, 25C." {
		t.Errorf("content = %q, want stored response", resp.Content)
	}

	// Unrelated wording must miss.
	other := Lookup{Fingerprint: "fp-x", Query: "write me a poem", Category: types.CategoryGeneral}
	if _, ok := c.Get(ctx, other); ok {
		t.Error("dissimilar query must not hit the semantic tier")
	}

	// SkipSemantic disables the tier for a call.
	skipped := similar
	skipped.Fingerprint = "fp-w3"
	skipped.SkipSemantic = true
	if _, ok := c.Get(ctx, skipped); ok {
		t.Error("skip-semantic lookup must miss")
	}
}

func TestCache_SemanticDisabledWithoutEmbedder(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	stored := Lookup{Fingerprint: "fp-w1", Query: "What is the weather?", Category: types.CategoryWeather}
	c.Put(ctx, stored, newResponse("Sunny."), nil)

	similar := Lookup{Fingerprint: "fp-w2", Query: "what is the weather today", Category: types.CategoryWeather}
	if _, ok := c.Get(ctx, similar); ok {
		t.Error("semantic lookups must always miss when no embedder is configured")
	}
}

func TestCache_Invalidate(t *testing.T) {
	store := newFakeStore()
	c := New(WithStore(store), WithCleanupInterval(-1))
	defer c.Close()
	ctx := context.Background()

	l := Lookup{Fingerprint: "fp4", Query: "q", Category: types.CategoryGeneral}
	c.Put(ctx, l, newResponse("x"), nil)

	if n := c.Invalidate(ctx, "fp4"); n != 2 {
		t.Errorf("invalidate removed from %d tiers, want 2", n)
	}
	if _, ok := c.Get(ctx, l); ok {
		t.Error("get after invalidate must miss regardless of prior state")
	}
	// Idempotent: a second invalidation removes nothing.
	if n := c.Invalidate(ctx, "fp4"); n != 0 {
		t.Errorf("second invalidate = %d, want 0", n)
	}
}

func TestCache_InvalidateCategory(t *testing.T) {
	store := newFakeStore()
	c := New(WithStore(store), WithCleanupInterval(-1))
	defer c.Close()
	ctx := context.Background()

	c.Put(ctx, Lookup{Fingerprint: "n1", Query: "q1", Category: types.CategoryNews}, newResponse("a"), nil)
	c.Put(ctx, Lookup{Fingerprint: "n2", Query: "q2", Category: types.CategoryNews}, newResponse("b"), nil)
	c.Put(ctx, Lookup{Fingerprint: "w1", Query: "q3", Category: types.CategoryWeather}, newResponse("c"), nil)

	if n := c.InvalidateCategory(ctx, types.CategoryNews); n != 2 {
		t.Errorf("category invalidation removed %d rows, want 2", n)
	}
	if cnt, _ := store.Len(ctx); cnt != 1 {
		t.Errorf("store len = %d, want 1", cnt)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	c.Get(ctx, Lookup{Fingerprint: "missing", Query: "unmatched prompt", Category: types.CategoryGeneral})
	c.Get(ctx, Lookup{Query: "hello", Category: types.CategoryConversation})

	s := c.Stats()
	if s.Misses != 1 || s.L0Hits != 1 {
		t.Errorf("stats = %+v, want 1 miss and 1 template hit", s)
	}
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.14159, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("truncated blob should be rejected")
	}
	if v, err := DecodeVector(nil); err != nil || v != nil {
		t.Errorf("nil blob = %v, %v, want nil, nil", v, err)
	}
}
