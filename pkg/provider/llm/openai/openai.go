// Package openai provides an LLM provider backed by any OpenAI-compatible
// chat-completion API.
//
// Besides api.openai.com this covers aggregator endpoints that speak the
// same protocol but additionally require referrer-identity headers
// (HTTP-Referer / X-Title); configure those with [WithReferrer].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// Provider implements llm.Provider using the OpenAI chat-completion API.
type Provider struct {
	client oai.Client
	desc   llm.Descriptor
	hasKey bool
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	referrer     string
	appTitle     string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point
// the adapter at any OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithReferrer sets the referrer-identity headers (HTTP-Referer and X-Title)
// some aggregator endpoints require for request attribution.
func WithReferrer(referrer, appTitle string) Option {
	return func(c *config) {
		c.referrer = referrer
		c.appTitle = appTitle
	}
}

// New constructs an OpenAI-backed Provider with the given logical name.
func New(name, apiKey, model string, defaults types.GenerationParams, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("openai: name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.referrer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", cfg.referrer))
	}
	if cfg.appTitle != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", cfg.appTitle))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		desc: llm.Descriptor{
			Name:     name,
			Endpoint: cfg.baseURL,
			Model:    model,
			Defaults: defaults,
		},
		hasKey: apiKey != "",
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.desc.Name }

// Descriptor implements llm.Provider.
func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// IsAvailable implements llm.Provider. Remote endpoints are considered
// available whenever a credential is configured; no liveness probe is made.
func (p *Provider) IsAvailable() bool { return p.hasKey }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*types.Response, error) {
	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(p.desc.Name, llm.ClassTransient, 0,
			fmt.Errorf("empty choices in response"))
	}

	choice := resp.Choices[0]
	return &types.Response{
		Content:    choice.Message.Content,
		Provider:   p.desc.Name,
		Model:      p.desc.Model,
		TokenCount: int(resp.Usage.CompletionTokens),
		Reason:     llm.CanonicalFinish(choice.FinishReason),
	}, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, p.wrapErr(err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
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

		if err := stream.Err(); err != nil {
			wrapped := p.wrapErr(err)
			select {
			case ch <- llm.Chunk{FinishReason: types.ReasonError, Err: wrapped}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// wrapErr converts an SDK error into a classified *llm.ProviderError.
func (p *Provider) wrapErr(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		return llm.NewError(p.desc.Name, llm.ClassifyStatus(status), status, err)
	}
	// Transport-level failure (reset, timeout, DNS).
	return llm.NewError(p.desc.Name, llm.ClassTransient, 0, err)
}

// buildParams converts an llm.Request into OpenAI SDK params.
func (p *Provider) buildParams(req llm.Request) oai.ChatCompletionNewParams {
	gen := llm.MergeParams(req.Params, p.desc.Defaults)

	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.desc.Model),
		Messages: messages,
	}
	if gen.Temperature != 0 {
		params.Temperature = param.NewOpt(gen.Temperature)
	}
	if gen.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(gen.MaxTokens))
	}
	return params
}
