// Package ollama provides an LLM provider backed by a local Ollama server.
//
// Ollama (https://ollama.com) hosts local large language models. This package
// uses Ollama's native /api/chat endpoint rather than the OpenAI-compatible
// shim, which gives access to done_reason and eval_count in the response.
//
// Example usage:
//
//	p, err := ollama.New("local", "", "llama3.2", defaults) // connects to http://localhost:11434
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := p.Generate(ctx, req)
//
// Only standard library packages are used — no additional dependencies are
// required beyond Go's net/http and encoding/json.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the liveness probe so IsAvailable stays cheap even
// when the server is down.
const probeTimeout = 500 * time.Millisecond

// probeCacheTTL is how long a probe result is reused before re-checking.
const probeCacheTTL = 10 * time.Second

// Ensure Provider implements the llm.Provider interface at compile time.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using a local Ollama server.
//
// Unlike remote adapters, IsAvailable performs a real liveness probe against
// the server root (Ollama answers plain GET / with 200 when running). The
// probe result is cached for probeCacheTTL so hot routing paths do not hammer
// the socket.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	desc       llm.Descriptor
	httpClient *http.Client

	probeMu      sync.Mutex
	probeResult  bool
	probeCheckAt time.Time
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default). Streaming requests
// are exempt; they are bounded by the caller's context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Ollama Provider with the given logical name.
//
// baseURL is the base URL of the Ollama server (e.g., "http://localhost:11434").
// If empty, DefaultBaseURL is used. A trailing slash is stripped automatically.
//
// model is the Ollama model name (e.g., "llama3.2"). It must not be empty.
func New(name, baseURL, model string, defaults types.GenerationParams, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("ollama: name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{
		baseURL:    baseURL,
		httpClient: httpClient,
		desc: llm.Descriptor{
			Name:     name,
			Endpoint: baseURL,
			Model:    model,
			Defaults: defaults,
		},
	}, nil
}

// chatRequest is the JSON request body sent to Ollama's /api/chat endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatOptions carries the subset of Ollama model options the router tunes.
type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// chatResponse is one JSON object from Ollama's /api/chat endpoint. The
// non-streaming call returns exactly one; the streaming call returns one per
// line (NDJSON) with Done set on the last.
type chatResponse struct {
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	EvalCount  int         `json:"eval_count"`
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.desc.Name }

// Descriptor implements llm.Provider.
func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// IsAvailable implements llm.Provider with a cached liveness probe against
// the server root.
func (p *Provider) IsAvailable() bool {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()

	now := time.Now()
	if now.Sub(p.probeCheckAt) < probeCacheTTL {
		return p.probeResult
	}
	p.probeCheckAt = now
	p.probeResult = p.probe()
	return p.probeResult
}

// probe checks whether the Ollama server answers on its root endpoint.
func (p *Provider) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*types.Response, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, llm.NewError(p.desc.Name, llm.ClassInvalid, 0,
			fmt.Errorf("marshal request: %w", err))
	}

	resp, err := p.doChat(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, llm.NewError(p.desc.Name, llm.ClassTransient, 0,
			fmt.Errorf("decode response: %w", err))
	}

	return &types.Response{
		Content:    result.Message.Content,
		Provider:   p.desc.Name,
		Model:      p.desc.Model,
		TokenCount: result.EvalCount,
		Reason:     llm.CanonicalFinish(result.DoneReason),
	}, nil
}

// Stream implements llm.Provider. Ollama streams NDJSON: one chatResponse
// object per line, the last with Done set.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, llm.NewError(p.desc.Name, llm.ClassInvalid, 0,
			fmt.Errorf("marshal request: %w", err))
	}

	resp, err := p.doChat(ctx, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var part chatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				p.emit(ctx, ch, llm.Chunk{
					FinishReason: types.ReasonError,
					Err: llm.NewError(p.desc.Name, llm.ClassTransient, 0,
						fmt.Errorf("decode stream line: %w", err)),
				})
				return
			}

			out := llm.Chunk{Text: part.Message.Content}
			if part.Done {
				out.FinishReason = llm.CanonicalFinish(part.DoneReason)
			}
			if !p.emit(ctx, ch, out) {
				return
			}
			if part.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			p.emit(ctx, ch, llm.Chunk{
				FinishReason: types.ReasonError,
				Err:          llm.NewError(p.desc.Name, llm.ClassTransient, 0, err),
			})
		}
	}()

	return ch, nil
}

// emit sends a chunk unless ctx is cancelled first. Reports whether the send
// happened.
func (p *Provider) emit(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// doChat sends a POST /api/chat request and validates the status. The caller
// owns the returned body.
func (p *Provider) doChat(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewError(p.desc.Name, llm.ClassInvalid, 0,
			fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, llm.NewError(p.desc.Name, llm.ClassTransient, 0,
			fmt.Errorf("http: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, llm.NewError(p.desc.Name, llm.ClassifyStatus(resp.StatusCode), resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp, nil
}

// buildRequest converts an llm.Request into an Ollama chat request body.
func (p *Provider) buildRequest(req llm.Request, stream bool) chatRequest {
	gen := llm.MergeParams(req.Params, p.desc.Defaults)

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	out := chatRequest{
		Model:    p.desc.Model,
		Messages: messages,
		Stream:   stream,
	}

	var opts chatOptions
	if gen.Temperature != 0 {
		t := gen.Temperature
		opts.Temperature = &t
	}
	if gen.MaxTokens > 0 {
		mt := gen.MaxTokens
		opts.NumPredict = &mt
	}
	if opts.Temperature != nil || opts.NumPredict != nil {
		out.Options = &opts
	}
	return out
}
