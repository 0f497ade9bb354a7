// Package llm defines the Provider interface for remote model backends.
//
// An LLM provider wraps a remote or local chat-completion endpoint (e.g.
// OpenAI, Anthropic via any-llm, or a local Ollama instance) and exposes a
// uniform generate/stream surface so the router can dispatch to any backend
// without coupling to a specific SDK.
//
// Adapters never retry internally — retry and failover are the router's
// responsibility. Any HTTP or transport failure is surfaced as a
// [*ProviderError] carrying the provider tag and an error class the router
// uses to decide between retry, skip, and permanent disablement.
//
// Implementations must be safe for concurrent use. Channels returned by
// Stream must be closed by the implementation when the stream ends or when
// the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/aide/pkg/types"
)

// Descriptor is the immutable configuration of one provider instance.
type Descriptor struct {
	// Name is the logical provider name used in routing tables and metrics
	// (e.g. "fast-remote", "local").
	Name string

	// Endpoint is the base URL of the backing API, if meaningful.
	Endpoint string

	// Model is the backend-specific model identifier.
	Model string

	// Defaults are the generation parameters applied when the request leaves
	// a field at its zero value.
	Defaults types.GenerationParams
}

// Request carries everything a provider needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Params are generation tunables. Zero-value fields fall back to the
	// provider's descriptor defaults.
	Params types.GenerationParams
}

// Chunk is a single text fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty on the
	// final chunk.
	Text string

	// FinishReason is set on the final chunk and maps the endpoint's
	// termination signal into the canonical set. Empty on non-final chunks.
	FinishReason types.TerminalReason

	// Err carries a mid-stream failure. A chunk with Err set is the last
	// chunk before the channel closes; its FinishReason is ReasonError.
	Err error
}

// Provider is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly.
type Provider interface {
	// Name returns the logical provider name from the descriptor.
	Name() string

	// Generate sends req and waits for the full response. The returned
	// Response carries the provider tag, model id, token usage when the
	// endpoint reports it, and a canonical terminal reason.
	Generate(ctx context.Context, req Request) (*types.Response, error)

	// Stream sends req and returns a read-only channel emitting Chunk
	// values as they arrive. The channel is closed by the implementation
	// when generation finishes or ctx is cancelled. Callers must drain the
	// channel to avoid goroutine leaks.
	//
	// Errors that occur after the channel is opened are surfaced as a final
	// Chunk with Err set; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// IsAvailable is a cheap configuration check: credential presence and,
	// for local endpoints only, a fast liveness probe. It must not perform
	// a full generation round-trip.
	IsAvailable() bool

	// Descriptor returns the immutable configuration of this instance.
	Descriptor() Descriptor
}

// EstimateTokens approximates the token cost of a message list for
// rate-limit admission. ~4 characters per token is a rough GPT-series
// approximation; the result should not undercount badly but need not be
// exact.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		// Overhead per message (role + formatting).
		total += 4
	}
	return total
}

// MergeParams fills zero-value fields of p from defaults.
func MergeParams(p, defaults types.GenerationParams) types.GenerationParams {
	if p.Temperature == 0 {
		p.Temperature = defaults.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.Timeout == 0 {
		p.Timeout = defaults.Timeout
	}
	return p
}

// CanonicalFinish maps endpoint-specific finish reason strings into the
// canonical terminal set shared by all adapters.
func CanonicalFinish(reason string) types.TerminalReason {
	switch reason {
	case "", "stop", "end_turn", "complete", "done":
		return types.ReasonComplete
	case "length", "max_tokens":
		return types.ReasonLength
	case "error":
		return types.ReasonError
	default:
		return types.ReasonComplete
	}
}
