// Package app wires all Aide subsystems into a running assistant core.
//
// The Assistant struct owns the full lifecycle: New creates and connects the
// cache, router, executor, and resource monitor, and Close tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithCache, WithStore, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aide/internal/cache"
	"github.com/MrWong99/aide/internal/cache/postgres"
	"github.com/MrWong99/aide/internal/cache/sqlite"
	"github.com/MrWong99/aide/internal/config"
	"github.com/MrWong99/aide/internal/observe"
	"github.com/MrWong99/aide/internal/parallel"
	"github.com/MrWong99/aide/internal/ratelimit"
	"github.com/MrWong99/aide/internal/router"
	"github.com/MrWong99/aide/internal/stream"
	"github.com/MrWong99/aide/pkg/provider/embeddings"
	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
	"go.opentelemetry.io/otel/metric"
)

// DefaultSQLitePath is the fallback cache database location when the config
// leaves cache.path empty.
const DefaultSQLitePath = "aide-cache.db"

// Assistant owns all subsystem lifetimes and exposes the generate, stream,
// and parallel surfaces.
type Assistant struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *observe.Metrics

	cache    *cache.Cache
	router   *router.Router
	executor *parallel.Executor
	monitor  *parallel.Monitor

	// embedder and store are injected by main (registry-built) or tests
	// before initCache assembles the tiers.
	embedder embeddings.Provider
	store    cache.Store

	startedAt time.Time

	// closers are called in order during Close.
	closers []func() error

	stopOnce sync.Once
	closeErr error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Assistant)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Assistant) { a.log = log }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithCache injects a fully built cache instead of creating one from config.
func WithCache(c *cache.Cache) Option {
	return func(a *Assistant) { a.cache = c }
}

// WithMonitor injects a resource monitor instead of creating one from config.
func WithMonitor(m *parallel.Monitor) Option {
	return func(a *Assistant) { a.monitor = m }
}

// WithEmbedder supplies the embedding backend for the semantic cache tier.
// Nil disables semantic caching.
func WithEmbedder(e embeddings.Provider) Option {
	return func(a *Assistant) { a.embedder = e }
}

// WithStore injects a persistent cache store instead of opening one from
// config. Useful for tests with an in-memory store.
func WithStore(s cache.Store) Option {
	return func(a *Assistant) { a.store = s }
}

// New creates an Assistant by wiring all subsystems together. The providers
// slice comes from main (populated via the config registry) in configuration
// order, which is also the routing fallback order.
func New(ctx context.Context, cfg *config.Config, providers []llm.Provider, opts ...Option) (*Assistant, error) {
	a := &Assistant{
		cfg:       cfg,
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCache(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init cache: %w", err)
	}
	a.initRouter(providers)
	a.initExecutor()
	a.initMonitor()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCache opens the persistent store per config and assembles the tiered
// cache around it.
func (a *Assistant) initCache(ctx context.Context) error {
	if a.cache != nil {
		return nil // injected
	}

	cc := a.cfg.Cache
	if a.store == nil {
		switch cc.Driver {
		case config.DriverPostgres:
			store, err := postgres.Open(ctx, cc.DSN, a.cfg.Embedding.Dimensions)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, store.Close)
		case config.DriverNone:
			// Memory-only: L1 and the template tier still work.
		default:
			path := cc.Path
			if path == "" {
				path = DefaultSQLitePath
			}
			store, err := sqlite.Open(path)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, store.Close)
		}
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(a.log),
		cache.WithAssistantName(a.cfg.Assistant.Name),
	}
	if a.store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(a.store))
	}
	if cc.L1Capacity > 0 {
		cacheOpts = append(cacheOpts, cache.WithL1Capacity(cc.L1Capacity))
	}
	if cc.MaxEntries > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(cc.MaxEntries))
	}
	if a.embedder != nil {
		cacheOpts = append(cacheOpts, cache.WithEmbedder(a.embedder, cc.SemanticCapacity, cc.SemanticThreshold))
	}
	a.cache = cache.New(cacheOpts...)
	a.closers = append(a.closers, a.cache.Close)
	return nil
}

// initRouter assembles the router with per-provider quotas from config.
func (a *Assistant) initRouter(providers []llm.Provider) {
	a.router = router.New(providers, router.Config{
		MaxRetries:    a.cfg.Router.MaxRetries,
		BackoffBase:   a.cfg.Router.BackoffBase,
		Deadline:      a.cfg.Router.Deadline,
		AssistantName: a.cfg.Assistant.Name,
	},
		router.WithLogger(a.log),
		router.WithCache(a.cache),
		router.WithMetrics(a.metrics),
		router.WithQuotas(quotasFromConfig(a.cfg.Providers)),
	)
}

// quotasFromConfig maps configured provider quotas into ledger quotas.
// Providers without a quota are omitted and treated as unlimited.
func quotasFromConfig(providers []config.ProviderConfig) map[string]ratelimit.Quota {
	quotas := make(map[string]ratelimit.Quota)
	for _, p := range providers {
		if p.Quota.MaxRequests == 0 && p.Quota.MaxTokens == 0 {
			continue
		}
		quotas[p.Name] = ratelimit.Quota{
			MaxRequests: p.Quota.MaxRequests,
			MaxTokens:   p.Quota.MaxTokens,
			Window:      p.Quota.Window,
		}
	}
	return quotas
}

// initExecutor assembles the bounded parallel executor.
func (a *Assistant) initExecutor() {
	a.executor = parallel.New(a.cfg.Executor.MaxParallel,
		parallel.WithLogger(a.log),
		parallel.WithMetrics(a.metrics),
	)
}

// initMonitor assembles and starts the resource monitor. Hard pressure
// triggers a cache sweep; the soft GC response lives in the monitor itself.
func (a *Assistant) initMonitor() {
	if a.monitor == nil {
		m, err := parallel.NewMonitor(
			parallel.WithMonitorLogger(a.log),
			parallel.WithMonitorMetrics(a.metrics),
			parallel.WithSampleInterval(a.cfg.Monitor.SampleInterval),
			parallel.WithThresholds(parallel.Thresholds{
				SoftRSSMegabytes: a.cfg.Monitor.SoftRSSMegabytes,
				HardRSSMegabytes: a.cfg.Monitor.HardRSSMegabytes,
				HardCPUPercent:   a.cfg.Monitor.HardCPUPercent,
			}),
		)
		if err != nil {
			// No /proc on this platform; run without sampling.
			a.log.Warn("resource monitor unavailable", "err", err)
			return
		}
		a.monitor = m
	}

	a.monitor.OnPressure(func(s parallel.Sample) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := a.cache.Cleanup(ctx)
		if err != nil {
			a.log.Error("pressure cache sweep failed", "err", err)
			return
		}
		a.log.Warn("resource pressure, swept cache",
			"rss_mb", s.RSSMegabytes, "cpu_percent", s.CPUPercent, "removed", removed)
	})
	a.monitor.Start()
	a.closers = append(a.closers, func() error {
		a.monitor.Stop()
		return nil
	})
}

// ─── Request surface ─────────────────────────────────────────────────────────

// Generate routes one request end to end and returns the full response.
func (a *Assistant) Generate(ctx context.Context, req router.Request) (*types.Response, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.generate")
	defer span.End()

	resp, err := a.router.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	observe.AnnotateRoute(span, resp.Provider, resp.CacheTier, resp.Cached)
	return resp, nil
}

// Stream starts a streaming response. Sentences are delivered to consumer in
// order; the returned handle controls and observes the stream. On clean
// completion the full text is written back to the cache and the provider's
// token usage is recorded.
func (a *Assistant) Stream(ctx context.Context, req router.Request, consumer stream.Consumer) (*StreamHandle, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.stream")

	tokens, route, err := a.router.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}
	observe.AnnotateRoute(span, route.Provider, "", route.Cached)

	coord := stream.New(consumer, stream.WithLogger(a.log))
	h := &StreamHandle{
		coord: coord,
		route: route,
		done:  make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer span.End()
		content, reason, runErr := coord.Run(ctx, tokens)
		m := coord.Metrics()

		if !route.Cached {
			if ttft := m.TimeToFirstToken(); ttft > 0 {
				a.metrics.TimeToFirstToken.Record(ctx, ttft.Seconds(),
					metric.WithAttributes(observe.Attr("provider", route.Provider)))
			}
			if ttfs := m.TimeToFirstSentence(); ttfs > 0 {
				a.metrics.TimeToFirstSentence.Record(ctx, ttfs.Seconds(),
					metric.WithAttributes(observe.Attr("provider", route.Provider)))
			}
			a.router.RecordUsage(route.Provider, m.TotalTokens)
			a.router.CacheStreamed(context.WithoutCancel(ctx), route, content, reason)
		}

		h.result = StreamResult{
			Content:  content,
			Reason:   reason,
			Metrics:  m,
			Provider: route.Provider,
			Task:     route.Task,
			Cached:   route.Cached,
			Err:      runErr,
		}
	}()
	return h, nil
}

// Parallel executes tasks through the bounded executor in priority order.
// Results are returned in submission order. A zero timeout falls back to the
// configured default task timeout.
func (a *Assistant) Parallel(ctx context.Context, tasks []parallel.Task, timeout time.Duration) []parallel.Result {
	if timeout == 0 {
		timeout = a.cfg.Executor.TaskTimeout
	}
	return a.executor.RunPrioritized(ctx, tasks, timeout)
}

// CancelAll aborts every task the executor is currently running or admitting.
func (a *Assistant) CancelAll() {
	a.executor.CancelAll()
}

// Invalidate removes every cache entry with the given fingerprint across all
// tiers and returns the number of entries removed.
func (a *Assistant) Invalidate(ctx context.Context, fingerprint string) int {
	return a.cache.Invalidate(ctx, fingerprint)
}

// InvalidateCategory removes every cache entry in the given category and
// returns the number of entries removed.
func (a *Assistant) InvalidateCategory(ctx context.Context, category types.CacheCategory) int {
	return a.cache.InvalidateCategory(ctx, category)
}

// ResetProvider clears a provider's failure state so it re-enters routing.
// Returns false for unknown provider names.
func (a *Assistant) ResetProvider(name string) bool {
	return a.router.ResetProvider(name)
}

// ApplyConfigDiff applies the hot-reloadable parts of a config change:
// provider quota updates. Log level is handled by main (it owns the
// handler); everything else needs a restart and is logged as such.
func (a *Assistant) ApplyConfigDiff(d config.ConfigDiff, newCfg *config.Config) {
	if d.ProvidersChanged {
		quotas := quotasFromConfig(newCfg.Providers)
		for _, pc := range d.ProviderChanges {
			switch {
			case pc.QuotaChanged:
				q, ok := quotas[pc.Name]
				if !ok {
					q = ratelimit.Quota{MaxRequests: 1 << 30, MaxTokens: 1 << 30}
				}
				a.router.UpdateQuota(pc.Name, q)
				a.log.Info("provider quota updated", "provider", pc.Name)
			case pc.Added, pc.Removed:
				a.log.Warn("provider set changed; restart required to apply",
					"provider", pc.Name)
			}
		}
	}
	if d.SemanticThresholdChanged {
		a.log.Warn("cache.semantic_threshold changed; restart required to apply")
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

// Status is the live view of the assistant core served by GET /status.
type Status struct {
	Assistant   string                 `json:"assistant"`
	UptimeSecs  float64                `json:"uptime_seconds"`
	Providers   []router.ProviderState `json:"providers"`
	Cache       cache.Stats            `json:"cache"`
	ActiveTasks int                    `json:"active_tasks"`
	Resources   *parallel.Sample       `json:"resources,omitempty"`
}

// Status reports the state of every subsystem.
func (a *Assistant) Status() Status {
	s := Status{
		Assistant:   a.cfg.Assistant.Name,
		UptimeSecs:  time.Since(a.startedAt).Seconds(),
		Providers:   a.router.ProviderStates(),
		Cache:       a.cache.Stats(),
		ActiveTasks: a.executor.Active(),
	}
	if a.monitor != nil {
		cur := a.monitor.Current()
		if !cur.Timestamp.IsZero() {
			s.Resources = &cur
		}
	}
	return s
}

// Healthy reports whether at least one provider is reachable. The cache-only
// degraded mode still serves template and cached replies, so an assistant
// with no live provider is degraded, not dead.
func (a *Assistant) Healthy(ctx context.Context) error {
	for _, p := range a.router.ProviderStates() {
		if p.Available {
			return nil
		}
	}
	return fmt.Errorf("no provider available")
}

// Close tears down all subsystems in reverse construction order. Safe to
// call more than once.
func (a *Assistant) Close() error {
	a.stopOnce.Do(func() {
		a.closeErr = a.runClosers()
	})
	return a.closeErr
}

func (a *Assistant) runClosers() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// ─── Stream handle ───────────────────────────────────────────────────────────

// StreamResult is the final outcome of one streamed response.
type StreamResult struct {
	Content  string
	Reason   types.TerminalReason
	Metrics  types.StreamMetrics
	Provider string
	Task     types.TaskType
	Cached   bool
	Err      error
}

// StreamHandle controls one in-flight stream.
type StreamHandle struct {
	coord  *stream.Coordinator
	route  *router.Route
	done   chan struct{}
	result StreamResult
}

// Interrupt stops the stream; queued sentences are dropped.
func (h *StreamHandle) Interrupt() { h.coord.Interrupt() }

// Pause suspends sentence delivery until Resume.
func (h *StreamHandle) Pause() { h.coord.Pause() }

// Resume continues a paused stream.
func (h *StreamHandle) Resume() { h.coord.Resume() }

// State returns the coordinator lifecycle state.
func (h *StreamHandle) State() stream.State { return h.coord.State() }

// Wait blocks until the stream has fully terminated and returns the result.
func (h *StreamHandle) Wait() StreamResult {
	<-h.done
	return h.result
}
