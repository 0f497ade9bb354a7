// Package router dispatches requests to the best available provider.
//
// A request flows through: cache consultation, task classification, candidate
// selection, and a retry/failover loop. Candidate order comes from the task's
// preference table, with any hinted provider moved to the front. Providers
// that are unconfigured, unhealthy, inside a failure backoff window, or out
// of rate-limit quota are filtered out before the first dispatch.
//
// Failure handling is class-driven:
//
//	transient     retried on the same provider with exponential backoff,
//	              then failover to the next candidate
//	rate_limited  local ledger saturated, immediate failover, no health hit
//	auth          provider marked unavailable, immediate failover
//	invalid       surfaced to the caller, no failover (the request is faulty)
//
// Streaming uses the same selection and retry logic to open the stream, but
// never fails over once chunks are flowing: a consumer may already have
// spoken the first sentences, so a mid-flight switch would repeat or
// contradict them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/aide/internal/cache"
	"github.com/MrWong99/aide/internal/classify"
	"github.com/MrWong99/aide/internal/fingerprint"
	"github.com/MrWong99/aide/internal/observe"
	"github.com/MrWong99/aide/internal/provhealth"
	"github.com/MrWong99/aide/internal/ratelimit"
	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

const (
	// DefaultMaxRetries is the per-provider attempt budget for transient
	// failures.
	DefaultMaxRetries = 3

	// DefaultDeadline bounds one routed request end to end.
	DefaultDeadline = 2 * time.Minute
)

// ErrNoUserMessage is returned when the request carries no user-role message
// to route on.
var ErrNoUserMessage = errors.New("router: request has no user message")

// AllProvidersFailed is returned when every candidate was exhausted.
type AllProvidersFailed struct {
	// Task is the classified task type of the failed request.
	Task types.TaskType

	// Attempted lists the providers tried, in dispatch order.
	Attempted []string

	// LastErr is the error from the final attempt.
	LastErr error
}

// Error implements the error interface.
func (e *AllProvidersFailed) Error() string {
	return fmt.Sprintf("router: all providers failed for task %s (attempted %s): %v",
		e.Task, strings.Join(e.Attempted, ", "), e.LastErr)
}

// Unwrap exposes the last attempt's error to errors.Is / errors.As.
func (e *AllProvidersFailed) Unwrap() error { return e.LastErr }

// defaultPreference maps each task type to its provider preference order.
// Names refer to logical provider roles; providers registered under other
// names are appended after the table entries in registration order.
var defaultPreference = map[types.TaskType][]string{
	types.TaskFastQuery:        {"fast-remote", "high-context-remote", "local"},
	types.TaskCoding:           {"fast-remote", "high-context-remote", "local"},
	types.TaskConversation:     {"fast-remote", "high-context-remote", "local"},
	types.TaskUnknown:          {"fast-remote", "high-context-remote", "local"},
	types.TaskComplexReasoning: {"high-context-remote", "fast-remote", "local"},
	types.TaskCreative:         {"high-context-remote", "fast-remote", "local"},
}

// Request is one routed generation request.
type Request struct {
	// Messages is the conversation history; the last user message drives
	// classification and caching.
	Messages []types.Message

	// Params are generation tunables forwarded to the chosen provider.
	Params types.GenerationParams

	// Hints carry optional routing directives.
	Hints types.Hints
}

// Config tunes a Router. Zero-value fields get defaults.
type Config struct {
	// MaxRetries is the per-provider attempt budget for transient failures.
	// Default: 3.
	MaxRetries int

	// BackoffBase seeds the exponential sleep between same-provider retries.
	// Default: 1s.
	BackoffBase time.Duration

	// Deadline bounds one routed request end to end. Default: 2m.
	Deadline time.Duration

	// AssistantName, when set, is stripped as a filler word during
	// fingerprinting so "Hey <name>, what's the weather" and "what's the
	// weather" share a cache entry.
	AssistantName string
}

// ProviderState is the operator-facing view of one provider.
type ProviderState struct {
	Name                string             `json:"name"`
	Model               string             `json:"model"`
	Available           bool               `json:"available"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastError           string             `json:"last_error,omitempty"`
	Restarts            int                `json:"restarts"`
	Quota               ratelimit.Snapshot `json:"quota"`
}

// Router owns provider selection, retry, failover, and cache read/write for
// generation requests. All methods are safe for concurrent use.
type Router struct {
	log        *slog.Logger
	cfg        Config
	classifier *classify.Classifier
	cache      *cache.Cache
	metrics    *observe.Metrics

	providers map[string]llm.Provider
	order     []string
	health    *provhealth.Tracker
	ledger    *ratelimit.Ledger
	prefs     map[types.TaskType][]string
	fillers   []string

	// sleep and now are injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// config holds optional configuration collected from functional options.
type config struct {
	logger  *slog.Logger
	cache   *cache.Cache
	metrics *observe.Metrics
	quotas  map[string]ratelimit.Quota
	prefs   map[types.TaskType][]string
}

// Option is a functional option for Router.
type Option func(*config)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithCache enables cache consultation and write-through.
func WithCache(ca *cache.Cache) Option {
	return func(c *config) { c.cache = ca }
}

// WithMetrics overrides the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithQuotas sets per-provider rate-limit quotas. Providers without a quota
// entry get an effectively unlimited window.
func WithQuotas(quotas map[string]ratelimit.Quota) Option {
	return func(c *config) { c.quotas = quotas }
}

// WithPreferences replaces the task-to-provider preference table.
func WithPreferences(prefs map[types.TaskType][]string) Option {
	return func(c *config) { c.prefs = prefs }
}

// unlimitedQuota admits everything within a one-minute window.
var unlimitedQuota = ratelimit.Quota{MaxRequests: 1 << 30, MaxTokens: 1 << 30}

// New constructs a Router over the given providers. Registration order is
// the tie-breaker for providers not named in the preference table.
func New(providers []llm.Provider, rcfg Config, opts ...Option) *Router {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	if cfg.prefs == nil {
		cfg.prefs = defaultPreference
	}
	if rcfg.MaxRetries <= 0 {
		rcfg.MaxRetries = DefaultMaxRetries
	}
	if rcfg.BackoffBase <= 0 {
		rcfg.BackoffBase = provhealth.DefaultBackoffBase
	}
	if rcfg.Deadline <= 0 {
		rcfg.Deadline = DefaultDeadline
	}

	r := &Router{
		log:        cfg.logger,
		cfg:        rcfg,
		classifier: classify.New(),
		cache:      cfg.cache,
		metrics:    cfg.metrics,
		providers:  make(map[string]llm.Provider, len(providers)),
		ledger:     ratelimit.New(nil),
		prefs:      cfg.prefs,
		fillers:    fingerprint.DefaultFillers,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	if rcfg.AssistantName != "" {
		r.fillers = append(append([]string{}, r.fillers...), strings.ToLower(rcfg.AssistantName))
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		name := p.Name()
		r.providers[name] = p
		names = append(names, name)

		q, ok := cfg.quotas[name]
		if !ok {
			q = unlimitedQuota
		}
		r.ledger.Register(name, q)
	}
	r.order = names
	// The failure threshold tracks the retry budget, so a provider trips to
	// backoff exactly when one request exhausts its attempts against it.
	r.health = provhealth.New(names, provhealth.Config{
		MaxFailures: rcfg.MaxRetries,
		BackoffBase: rcfg.BackoffBase,
	})
	return r
}

// Generate routes one request to completion: cache, classify, select,
// dispatch with retry and failover, then write the response back through the
// cache.
func (r *Router) Generate(ctx context.Context, req Request) (*types.Response, error) {
	start := r.now()

	query := lastUserMessage(req.Messages)
	if strings.TrimSpace(query) == "" {
		return nil, ErrNoUserMessage
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	task := r.taskFor(req)
	category := r.classifier.Category(req.Messages)
	lookup := cache.Lookup{
		Fingerprint:  fingerprint.Compute(req.Messages, r.fillers),
		Query:        query,
		Category:     category,
		SkipSemantic: req.Hints.SkipSemantic,
	}

	if r.cache != nil && !req.Hints.SkipCache {
		if resp, ok := r.cache.Get(ctx, lookup); ok {
			resp.Task = task
			r.metrics.RecordCacheLookup(ctx, resp.CacheTier, true)
			return resp, nil
		}
		r.metrics.RecordCacheLookup(ctx, "none", false)
	}

	resp, err := r.dispatch(ctx, req, task)
	if err != nil {
		return nil, err
	}

	resp.Task = task
	if r.cache != nil && !req.Hints.SkipCache {
		r.cache.Put(ctx, lookup, resp, map[string]string{"task": string(task)})
	}
	r.metrics.GenerationDuration.Record(ctx, r.now().Sub(start).Seconds())
	return resp, nil
}

// Stream routes one request to a streaming provider. Selection and the call
// that opens the stream use the full retry/failover loop; once the channel is
// returned there is no failover, and mid-flight failures surface as a final
// chunk with Err set.
//
// A cache hit is replayed as a single-chunk stream so consumers handle hits
// and live streams uniformly.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan llm.Chunk, *Route, error) {
	query := lastUserMessage(req.Messages)
	if strings.TrimSpace(query) == "" {
		return nil, nil, ErrNoUserMessage
	}

	task := r.taskFor(req)
	category := r.classifier.Category(req.Messages)
	route := &Route{
		Task:        task,
		Category:    category,
		Fingerprint: fingerprint.Compute(req.Messages, r.fillers),
		Query:       query,
	}
	lookup := cache.Lookup{
		Fingerprint:  route.Fingerprint,
		Query:        query,
		Category:     category,
		SkipSemantic: req.Hints.SkipSemantic,
	}

	if r.cache != nil && !req.Hints.SkipCache {
		if resp, ok := r.cache.Get(ctx, lookup); ok {
			r.metrics.RecordCacheLookup(ctx, resp.CacheTier, true)
			route.Provider = resp.Provider
			route.Cached = true
			ch := make(chan llm.Chunk, 2)
			ch <- llm.Chunk{Text: resp.Content}
			ch <- llm.Chunk{FinishReason: resp.Reason}
			close(ch)
			return ch, route, nil
		}
		r.metrics.RecordCacheLookup(ctx, "none", false)
	}

	var stream <-chan llm.Chunk
	err := r.attempt(ctx, task, req, func(ctx context.Context, p llm.Provider) (int, error) {
		ch, err := p.Stream(ctx, buildRequest(req))
		if err != nil {
			return 0, err
		}
		stream = ch
		route.Provider = p.Name()
		// Token usage is unknown until the stream finishes; the owner
		// reports it via RecordUsage.
		return 0, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stream, route, nil
}

// Route reports how a streamed request was resolved. The caller uses it to
// write the accumulated response back through the cache once the stream
// completes.
type Route struct {
	Provider    string
	Task        types.TaskType
	Category    types.CacheCategory
	Fingerprint string
	Query       string
	Cached      bool
}

// CacheStreamed writes a completed stream's accumulated content back through
// the cache using the route captured at dispatch time. No-op for cache hits
// and interrupted or failed streams (the cache refuses those reasons).
func (r *Router) CacheStreamed(ctx context.Context, route *Route, content string, reason types.TerminalReason) {
	if r.cache == nil || route == nil || route.Cached {
		return
	}
	p := r.providers[route.Provider]
	if p == nil {
		return
	}
	resp := &types.Response{
		Content:  content,
		Provider: route.Provider,
		Model:    p.Descriptor().Model,
		Reason:   reason,
		Task:     route.Task,
	}
	lookup := cache.Lookup{
		Fingerprint: route.Fingerprint,
		Query:       route.Query,
		Category:    route.Category,
	}
	r.cache.Put(ctx, lookup, resp, map[string]string{"task": string(route.Task)})
}

// dispatch runs the retry/failover loop for a blocking generation.
func (r *Router) dispatch(ctx context.Context, req Request, task types.TaskType) (*types.Response, error) {
	est := llm.EstimateTokens(req.Messages)
	var resp *types.Response
	err := r.attempt(ctx, task, req, func(ctx context.Context, p llm.Provider) (int, error) {
		out, err := p.Generate(ctx, buildRequest(req))
		if err != nil {
			return 0, err
		}
		resp = out
		// Charge reported usage against the quota window, falling back to
		// the admission estimate when the endpoint omits it.
		tokens := out.TokenCount
		if tokens <= 0 {
			tokens = est
		}
		return tokens, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt walks the candidate list, giving each provider up to MaxRetries
// tries for transient failures, and applies the class-driven bookkeeping on
// every failure. call performs the actual provider operation and returns the
// token usage to charge on success.
func (r *Router) attempt(ctx context.Context, task types.TaskType, req Request, call func(context.Context, llm.Provider) (int, error)) error {
	est := llm.EstimateTokens(req.Messages)
	candidates := r.candidates(task, req.Hints, est)
	if len(candidates) == 0 {
		return &AllProvidersFailed{Task: task, LastErr: errors.New("no eligible providers")}
	}

	var attempted []string
	var lastErr error

	for i, name := range candidates {
		p := r.providers[name]
		attempted = append(attempted, name)
		if i > 0 {
			r.metrics.RecordFailover(ctx)
			r.log.Info("failing over", "from", candidates[i-1], "to", name, "task", task)
		}

		for tries := 1; ; tries++ {
			tokens, err := call(ctx, p)
			if err == nil {
				r.recordSuccess(ctx, name, tokens)
				return nil
			}
			lastErr = err

			class := llm.ClassOf(err)
			r.metrics.RecordProviderError(ctx, name, string(class))
			r.metrics.RecordProviderRequest(ctx, name, "error", 0)

			switch class {
			case llm.ClassRateLimited:
				// Align local admission with the endpoint's view, then move
				// on without dinging health: the provider is fine, just busy.
				r.ledger.Saturate(name)
				r.log.Warn("provider rate limited, skipping", "provider", name)

			case llm.ClassAuth:
				r.health.MarkUnavailable(name, err)

			case llm.ClassInvalid:
				// The request itself is faulty; another provider would
				// reject it too.
				return err

			default: // transient
				r.health.RecordFailure(name, err)
				if tries < r.cfg.MaxRetries {
					r.metrics.RecordRetry(ctx, name)
					delay := provhealth.Backoff(r.cfg.BackoffBase, tries)
					r.log.Debug("retrying provider", "provider", name, "attempt", tries+1, "delay", delay)
					if serr := r.sleep(ctx, delay); serr != nil {
						return serr
					}
					continue
				}
			}
			break
		}
	}

	return &AllProvidersFailed{Task: task, Attempted: attempted, LastErr: lastErr}
}

// recordSuccess updates the ledger, health tracker, and metrics after a
// successful provider call. The ledger counts the request even when tokens
// is 0 (streams report usage later).
func (r *Router) recordSuccess(ctx context.Context, name string, tokens int) {
	r.ledger.Record(name, tokens)
	r.health.RecordSuccess(name)
	r.metrics.RecordProviderRequest(ctx, name, "ok", tokens)
}

// RecordUsage charges tokens actually consumed against name's quota window.
// Called by Generate internally and by stream owners once usage is known.
func (r *Router) RecordUsage(name string, tokens int) {
	if tokens > 0 {
		r.ledger.Record(name, tokens)
	}
}

// candidates builds the filtered, ordered provider list for task. A hinted
// provider heads the list; preference-table entries follow; remaining
// registered providers close it in registration order.
func (r *Router) candidates(task types.TaskType, hints types.Hints, estTokens int) []string {
	ordered := make([]string, 0, len(r.order)+1)
	seen := make(map[string]bool, len(r.order)+1)
	push := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		ordered = append(ordered, name)
	}

	push(hints.PreferredProvider)
	for _, name := range r.prefs[task] {
		push(name)
	}
	for _, name := range r.order {
		push(name)
	}

	now := r.now()
	eligible := ordered[:0]
	for _, name := range ordered {
		p, ok := r.providers[name]
		if !ok {
			continue
		}
		switch {
		case !r.health.Available(name):
			r.log.Debug("candidate skipped, unhealthy", "provider", name)
		case r.health.InBackoff(name, now):
			r.log.Debug("candidate skipped, in backoff", "provider", name)
		case !r.ledger.CanAdmit(name, estTokens):
			r.log.Debug("candidate skipped, over quota", "provider", name)
		case !p.IsAvailable():
			r.log.Debug("candidate skipped, not reachable", "provider", name)
		default:
			eligible = append(eligible, name)
		}
	}
	return eligible
}

// taskFor resolves the request's task type: an override wins, otherwise the
// classifier decides.
func (r *Router) taskFor(req Request) types.TaskType {
	if t := req.Hints.TaskOverride; t != "" && t.IsValid() {
		return t
	}
	task, _ := r.classifier.Classify(req.Messages)
	return task
}

// ProviderStates returns the operator-facing view of every registered
// provider, merging health and quota state.
func (r *Router) ProviderStates() []ProviderState {
	out := make([]ProviderState, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		h := r.health.Snapshot(name)
		out = append(out, ProviderState{
			Name:                name,
			Model:               p.Descriptor().Model,
			Available:           h.Available && p.IsAvailable(),
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastError:           h.LastError,
			Restarts:            h.Restarts,
			Quota:               r.ledger.Snapshot(name),
		})
	}
	return out
}

// ResetProvider re-enables a provider that was marked unavailable. Returns
// false for unknown names.
func (r *Router) ResetProvider(name string) bool {
	return r.health.Reset(name)
}

// UpdateQuota replaces a provider's rate-limit budget at runtime. The new
// window starts empty.
func (r *Router) UpdateQuota(name string, q ratelimit.Quota) {
	r.ledger.Register(name, q)
}

// buildRequest converts a router request into a provider request.
func buildRequest(req Request) llm.Request {
	return llm.Request{Messages: req.Messages, Params: req.Params}
}

// lastUserMessage returns the body of the last user-role message, or "".
func lastUserMessage(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
