// Package cache implements the four-tier response cache.
//
// Tiers, consulted in order:
//
//	L0 templates  — instant answers for a closed prompt set (never expires)
//	L1 memory     — capacity-bounded LRU keyed by fingerprint
//	L2 persistent — a Store implementation (SQLite or Postgres)
//	L3 semantic   — cosine-similarity index over raw query text
//
// An L2 hit is promoted into L1. L2 and L3 failures never surface to the
// caller: reads degrade to a miss, writes are dropped, and the failure is
// logged. System-action responses and responses that terminated with error
// or interrupted are never cached.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/aide/pkg/provider/embeddings"
	"github.com/MrWong99/aide/pkg/types"
)

// DefaultCleanupInterval is how often the persistent tier is swept.
const DefaultCleanupInterval = time.Hour

// DefaultL2MaxEntries bounds the persistent tier row count.
const DefaultL2MaxEntries = 10000

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	L0Hits   int64 `json:"l0_hits"`
	L1Hits   int64 `json:"l1_hits"`
	L2Hits   int64 `json:"l2_hits"`
	L3Hits   int64 `json:"l3_hits"`
	Misses   int64 `json:"misses"`
	L1Size   int   `json:"l1_size"`
	L3Size   int   `json:"l3_size"`
	Writes   int64 `json:"writes"`
	Rejected int64 `json:"rejected"`
}

// Lookup describes one cache consultation.
type Lookup struct {
	// Fingerprint is the canonical request digest, the key for L1 and L2.
	Fingerprint string

	// Query is the raw last-user-message text, the key space for L0 and L3.
	Query string

	// Category gates the semantic tier: system-action never consults it.
	Category types.CacheCategory

	// SkipSemantic disables the L3 consultation for this call.
	SkipSemantic bool
}

// Cache is the tiered response cache facade.
type Cache struct {
	log       *slog.Logger
	templates *Templates
	l1        *lru
	store     Store          // nil disables L2
	semantic  *semanticIndex // nil disables L3
	embedder  embeddings.Provider

	maxEntries      int
	cleanupInterval time.Duration

	l0Hits   atomic.Int64
	l1Hits   atomic.Int64
	l2Hits   atomic.Int64
	l3Hits   atomic.Int64
	misses   atomic.Int64
	writes   atomic.Int64
	rejected atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// config holds optional configuration collected from functional options.
type config struct {
	logger            *slog.Logger
	assistantName     string
	l1Capacity        int
	store             Store
	maxEntries        int
	cleanupInterval   time.Duration
	embedder          embeddings.Provider
	semanticCapacity  int
	semanticThreshold float64
}

// Option is a functional option for Cache.
type Option func(*config)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithAssistantName sets the name templates answer with.
func WithAssistantName(name string) Option {
	return func(c *config) { c.assistantName = name }
}

// WithL1Capacity bounds the in-memory tier.
func WithL1Capacity(n int) Option {
	return func(c *config) { c.l1Capacity = n }
}

// WithStore enables the persistent tier.
func WithStore(s Store) Option {
	return func(c *config) { c.store = s }
}

// WithMaxEntries bounds the persistent tier; the cleanup sweep removes the
// oldest-by-last-accessed rows beyond this.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithCleanupInterval overrides the sweep cadence. Zero keeps the default;
// a negative value disables the sweep (tests drive Cleanup directly).
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithEmbedder enables the semantic tier using the given embedding backend.
func WithEmbedder(e embeddings.Provider, capacity int, threshold float64) Option {
	return func(c *config) {
		c.embedder = e
		c.semanticCapacity = capacity
		c.semanticThreshold = threshold
	}
}

// New constructs the cache and, when a persistent store is configured,
// starts the periodic cleanup sweep. Call Close to stop it.
func New(opts ...Option) *Cache {
	cfg := &config{cleanupInterval: DefaultCleanupInterval, maxEntries: DefaultL2MaxEntries}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.maxEntries <= 0 {
		cfg.maxEntries = DefaultL2MaxEntries
	}

	c := &Cache{
		log:             cfg.logger,
		templates:       NewTemplates(cfg.assistantName),
		l1:              newLRU(cfg.l1Capacity),
		store:           cfg.store,
		embedder:        cfg.embedder,
		maxEntries:      cfg.maxEntries,
		cleanupInterval: cfg.cleanupInterval,
		stop:            make(chan struct{}),
		now:             time.Now,
	}
	if cfg.embedder != nil {
		c.semantic = newSemanticIndex(cfg.semanticCapacity, cfg.semanticThreshold, cfg.embedder.ModelID())
	}

	if c.store != nil && c.cleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return c
}

// Get consults the tiers in order and returns the first hit with its tier
// recorded on the response. A miss returns (nil, false).
func (c *Cache) Get(ctx context.Context, l Lookup) (*types.Response, bool) {
	now := c.now()

	if resp, ok := c.templates.Lookup(l.Query); ok {
		c.l0Hits.Add(1)
		return resp, true
	}

	if entry, ok := c.l1.get(l.Fingerprint, now); ok {
		c.l1Hits.Add(1)
		return cachedResponse(entry, TierMemory), true
	}

	if c.store != nil {
		entry, err := c.store.Get(ctx, l.Fingerprint)
		switch {
		case err == nil && !entry.Expired(now):
			c.l1.put(entry)
			c.l2Hits.Add(1)
			return cachedResponse(entry, TierPersistent), true
		case err != nil && !errors.Is(err, ErrNotFound):
			c.log.Warn("persistent cache read failed, treating as miss",
				"key", l.Fingerprint, "err", err)
		}
	}

	if c.semantic != nil && !l.SkipSemantic && l.Category != types.CategorySystemAction && l.Query != "" {
		vec, err := c.embedder.Embed(ctx, l.Query)
		if err != nil {
			c.log.Warn("query embedding failed, semantic tier disabled for this call", "err", err)
		} else if resp, sim, ok := c.semantic.search(vec, now); ok {
			c.l3Hits.Add(1)
			c.log.Debug("semantic cache hit", "similarity", sim)
			resp.Cached = true
			resp.CacheTier = TierSemantic
			return resp, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Put writes a live provider response through every enabled tier. Writes are
// refused for uncacheable categories and for responses that terminated with
// error or interrupted.
func (c *Cache) Put(ctx context.Context, l Lookup, resp *types.Response, metadata map[string]string) {
	if !l.Category.Cacheable() || resp == nil ||
		resp.Reason == types.ReasonError || resp.Reason == types.ReasonInterrupted {
		c.rejected.Add(1)
		return
	}

	now := c.now()
	entry := &Entry{
		Key:          l.Fingerprint,
		Query:        l.Query,
		Response:     *resp,
		Category:     l.Category,
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     metadata,
	}
	if ttl := l.Category.TTL(); ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if c.semantic != nil && !l.SkipSemantic && l.Query != "" {
		vec, err := c.embedder.Embed(ctx, l.Query)
		if err != nil {
			c.log.Warn("response embedding failed, entry not indexed semantically", "err", err)
		} else {
			entry.Embedding = vec
			entry.EmbeddingModel = c.embedder.ModelID()
			c.semantic.add(l.Query, vec, entry.EmbeddingModel, *resp, entry.ExpiresAt)
		}
	}

	c.l1.put(entry)
	if c.store != nil {
		if err := c.store.Put(ctx, entry); err != nil {
			c.log.Warn("persistent cache write dropped", "key", l.Fingerprint, "err", err)
		}
	}
	c.writes.Add(1)
}

// Invalidate removes the entry for a fingerprint from L1 and L2, returning
// the number of tiers an entry was removed from.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) int {
	count := 0
	if c.l1.delete(fingerprint) {
		count++
	}
	if c.store != nil {
		n, err := c.store.Delete(ctx, fingerprint)
		if err != nil {
			c.log.Warn("persistent cache delete failed", "key", fingerprint, "err", err)
		} else {
			count += int(n)
		}
	}
	return count
}

// InvalidateCategory removes every persistent entry in the category and
// clears the semantic index wholesale (it is keyed by raw text, not
// category). Returns the number of persistent rows removed.
func (c *Cache) InvalidateCategory(ctx context.Context, category types.CacheCategory) int {
	count := 0
	if c.store != nil {
		n, err := c.store.DeleteCategory(ctx, category)
		if err != nil {
			c.log.Warn("persistent cache category delete failed", "category", category, "err", err)
		} else {
			count = int(n)
		}
	}
	if c.semantic != nil {
		c.semantic.clear()
	}
	return count
}

// Stats returns a snapshot of the per-tier counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		L0Hits:   c.l0Hits.Load(),
		L1Hits:   c.l1Hits.Load(),
		L2Hits:   c.l2Hits.Load(),
		L3Hits:   c.l3Hits.Load(),
		Misses:   c.misses.Load(),
		L1Size:   c.l1.len(),
		Writes:   c.writes.Load(),
		Rejected: c.rejected.Load(),
	}
	if c.semantic != nil {
		s.L3Size = c.semantic.len()
	}
	return s
}

// Cleanup runs one persistent-tier sweep immediately.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.Cleanup(ctx, c.now(), c.maxEntries)
}

// Close stops the cleanup sweep and closes the persistent store.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := c.store.Cleanup(ctx, c.now(), c.maxEntries)
			cancel()
			if err != nil {
				c.log.Warn("cache cleanup sweep failed", "err", err)
			} else if removed > 0 {
				c.log.Debug("cache cleanup sweep", "removed", removed)
			}
		case <-c.stop:
			return
		}
	}
}

// cachedResponse copies the entry's response with the cache flags set.
func cachedResponse(entry *Entry, tier string) *types.Response {
	resp := entry.Response
	resp.Cached = true
	resp.CacheTier = tier
	return &resp
}
