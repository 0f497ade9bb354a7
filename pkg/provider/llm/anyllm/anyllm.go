// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	p, err := anyllm.New("high-context-remote", "anthropic", "claude-3-5-sonnet-latest",
//		defaults, anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	desc    llm.Descriptor
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// New creates a Provider with the given logical name backed by backendName.
//
// backendName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend
// falls back to the relevant environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, …).
func New(name, backendName, model string, defaults types.GenerationParams, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("anyllm: name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	return &Provider{
		backend: backend,
		desc: llm.Descriptor{
			Name:     name,
			Model:    model,
			Defaults: defaults,
		},
	}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(backendName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(backendName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", backendName)
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.desc.Name }

// Descriptor implements llm.Provider.
func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// IsAvailable implements llm.Provider. Backend construction already
// validated configuration, so a live backend is considered available.
func (p *Provider) IsAvailable() bool { return p.backend != nil }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*types.Response, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(p.desc.Name, llm.ClassTransient, 0,
			fmt.Errorf("empty choices in response"))
	}

	choice := resp.Choices[0]
	out := &types.Response{
		Content:  choice.Message.ContentString(),
		Provider: p.desc.Name,
		Model:    p.desc.Model,
		Reason:   llm.CanonicalFinish(choice.FinishReason),
	}
	if resp.Usage != nil {
		out.TokenCount = resp.Usage.CompletionTokens
	}
	return out, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := llm.Chunk{Text: choice.Delta.Content}
			if choice.FinishReason != "" {
				out.FinishReason = llm.CanonicalFinish(choice.FinishReason)
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			wrapped := p.wrapErr(err)
			select {
			case ch <- llm.Chunk{FinishReason: types.ReasonError, Err: wrapped}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// wrapErr converts a backend error into a classified *llm.ProviderError.
// any-llm-go does not expose typed status errors across all backends, so
// classification falls back to sniffing the status code out of the message.
func (p *Provider) wrapErr(err error) error {
	msg := err.Error()
	class := llm.ClassTransient
	status := 0
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		class, status = llm.ClassRateLimited, 429
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "api key"):
		class, status = llm.ClassAuth, 401
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request"):
		class, status = llm.ClassInvalid, 400
	}
	return llm.NewError(p.desc.Name, class, status, err)
}

// buildParams converts an llm.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.Request) anyllmlib.CompletionParams {
	gen := llm.MergeParams(req.Params, p.desc.Defaults)

	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.desc.Model,
		Messages: messages,
	}
	if gen.Temperature != 0 {
		t := gen.Temperature
		params.Temperature = &t
	}
	if gen.MaxTokens > 0 {
		mt := gen.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
