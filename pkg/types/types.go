// Package types defines the shared types used across all aide packages.
//
// These types form the lingua franca between the classifier, the router, the
// cache tiers, and the streaming pipeline. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
//
// Everything in this package is a plain value type. Nothing here performs I/O
// or holds locks; concurrency-safety is the concern of the packages that own
// mutable state built from these types.
package types

import "time"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text body of the message.
	Content string
}

// GenerationParams are the tunables forwarded to a model provider.
type GenerationParams struct {
	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// Timeout bounds the whole provider call. Zero means no per-call bound
	// beyond the caller's context deadline.
	Timeout time.Duration
}

// Hints carry optional routing directives attached to a request.
type Hints struct {
	// PreferredProvider, when set and configured, heads the candidate list.
	PreferredProvider string

	// TaskOverride skips classification when non-empty.
	TaskOverride TaskType

	// SkipCache bypasses all cache tiers for this request.
	SkipCache bool

	// SkipSemantic disables the L3 semantic lookup only.
	SkipSemantic bool
}

// TerminalReason says why generation stopped.
type TerminalReason string

const (
	ReasonComplete    TerminalReason = "complete"
	ReasonLength      TerminalReason = "length"
	ReasonInterrupted TerminalReason = "interrupted"
	ReasonError       TerminalReason = "error"
)

// Response is the outcome of a routed request.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Provider is the logical name of the provider that produced the reply.
	// Preserved from the original entry for cached replies.
	Provider string

	// Model is the provider-specific model identifier, if known.
	Model string

	// TokenCount is the completion token count when the provider reported
	// usage, otherwise 0.
	TokenCount int

	// Reason records why generation terminated.
	Reason TerminalReason

	// Cached is true when the response was materialised from a cache entry.
	Cached bool

	// CacheTier names the tier that served a cached response
	// ("template", "memory", "persistent", "semantic"). Empty for live
	// responses.
	CacheTier string

	// Task is the classified task type attached by the router.
	Task TaskType
}

// TaskType is the classifier output that selects a provider preference order.
type TaskType string

const (
	TaskFastQuery        TaskType = "fast-query"
	TaskComplexReasoning TaskType = "complex-reasoning"
	TaskCoding           TaskType = "coding"
	TaskCreative         TaskType = "creative"
	TaskConversation     TaskType = "conversation"
	TaskUnknown          TaskType = "unknown"
)

// IsValid reports whether t is a recognised task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskFastQuery, TaskComplexReasoning, TaskCoding, TaskCreative,
		TaskConversation, TaskUnknown:
		return true
	}
	return false
}

// CacheCategory controls TTL and cacheability of a response.
type CacheCategory string

const (
	CategoryStatic       CacheCategory = "static"
	CategoryWeather      CacheCategory = "weather"
	CategoryNews         CacheCategory = "news"
	CategoryCalendar     CacheCategory = "calendar"
	CategoryIoTStatus    CacheCategory = "iot-status"
	CategoryGeneral      CacheCategory = "general"
	CategoryConversation CacheCategory = "conversation"
	CategorySystemAction CacheCategory = "system-action"
)

// TTL returns the lifetime for entries of this category. Zero means the
// category is never cached.
func (c CacheCategory) TTL() time.Duration {
	switch c {
	case CategoryStatic:
		return 7 * 24 * time.Hour
	case CategoryWeather:
		return 30 * time.Minute
	case CategoryNews:
		return 60 * time.Minute
	case CategoryCalendar:
		return 15 * time.Minute
	case CategoryIoTStatus:
		return 5 * time.Minute
	case CategoryGeneral:
		return 60 * time.Minute
	case CategoryConversation:
		return 30 * time.Minute
	}
	return 0
}

// Cacheable reports whether responses of this category may be stored.
// System actions are never cached: replaying "lights off" from a cache
// entry would skip the actual actuation.
func (c CacheCategory) Cacheable() bool {
	return c != CategorySystemAction && c.TTL() > 0
}

// IsValid reports whether c is a recognised cache category.
func (c CacheCategory) IsValid() bool {
	return c == CategorySystemAction || c.TTL() > 0
}

// SentenceChunk is one detected sentence of a streaming response.
type SentenceChunk struct {
	// Text is the sentence body.
	Text string

	// Index is monotonic from 0 within one stream. The end-of-stream
	// sentinel carries Index == -1.
	Index int

	// IsFinal marks the last chunk of the stream (always true on the
	// sentinel).
	IsFinal bool

	// Timestamp records when the chunk was emitted.
	Timestamp time.Time
}

// SentinelChunk returns the distinguished end-of-stream marker that a
// consumer receives on every termination path.
func SentinelChunk() SentenceChunk {
	return SentenceChunk{Index: -1, IsFinal: true, Timestamp: time.Now()}
}

// IsSentinel reports whether c is the end-of-stream marker.
func (c SentenceChunk) IsSentinel() bool {
	return c.Index == -1 && c.IsFinal
}

// StreamMetrics aggregates timing and volume counters for one stream.
// All timestamps come from the monotonic clock; derived latencies are
// non-negative.
type StreamMetrics struct {
	StartedAt       time.Time
	FirstTokenAt    time.Time
	FirstSentenceAt time.Time
	EndedAt         time.Time

	TotalTokens     int
	TotalSentences  int
	TotalCharacters int
}

// TimeToFirstToken returns the latency between stream start and the first
// observed token, or 0 when no token arrived.
func (m StreamMetrics) TimeToFirstToken() time.Duration {
	if m.FirstTokenAt.IsZero() {
		return 0
	}
	return m.FirstTokenAt.Sub(m.StartedAt)
}

// TimeToFirstSentence returns the latency between stream start and the first
// emitted sentence, or 0 when no sentence was emitted.
func (m StreamMetrics) TimeToFirstSentence() time.Duration {
	if m.FirstSentenceAt.IsZero() {
		return 0
	}
	return m.FirstSentenceAt.Sub(m.StartedAt)
}

// Duration returns the total stream duration, or 0 while the stream is live.
func (m StreamMetrics) Duration() time.Duration {
	if m.EndedAt.IsZero() {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}
