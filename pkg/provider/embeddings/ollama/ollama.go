// Package ollama embeds text through a local Ollama server's /api/embed
// endpoint. It is the zero-credential backend for the semantic cache tier:
// point it at a running Ollama instance with an embedding model pulled
// (nomic-embed-text, mxbai-embed-large, all-minilm) and every cache lookup
// stays on the local machine.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/aide/pkg/provider/embeddings"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// modelDims maps well-known embedding model families to their vector width.
// Matching is by substring so tagged names ("nomic-embed-text:v1.5") resolve
// too. Models not listed here are probed on the first Dimensions call.
var modelDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider talks to one Ollama server with one embedding model. Safe for
// concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	// dims is resolved from WithDimensions, then modelDims, then a one-shot
	// probe request issued lazily by Dimensions.
	dims      int
	probeOnce sync.Once
}

type config struct {
	timeout time.Duration
	dims    int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions fixes the vector width up front, skipping both the model
// table and the probe request. Required when the persistent cache runs on a
// dimension-fixed column and the model is not in the built-in table.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dims = dims
	}
}

// New builds a Provider for the Ollama server at baseURL (DefaultBaseURL when
// empty) using the given embedding model. model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("embeddings/ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		dims:    cfg.dims,
	}
	if p.dims == 0 {
		p.dims = lookupDims(model)
	}
	return p, nil
}

// Embed returns the vector for a single text. The text is sent verbatim; any
// model-specific prefix ("query: " for nomic retrieval tasks) is the caller's
// job.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embeddings/ollama: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. result[i] corresponds to
// texts[i]; on error no partial results are returned. An empty input returns
// (nil, nil) without a network round trip.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings/ollama: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embeddings/ollama: embed batch: want %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions returns the vector width. For models outside the built-in table
// with no WithDimensions override, the first call issues a probe embed against
// the live server and caches the answer; if the probe fails, 0 is returned and
// the semantic tier stays disabled.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.probeOnce.Do(func() {
		vecs, err := p.post(context.Background(), []string{"dimension probe"})
		if err == nil && len(vecs) > 0 {
			p.dims = len(vecs[0])
		}
	})
	return p.dims
}

// ModelID returns the Ollama model name supplied at construction.
func (p *Provider) ModelID() string {
	return p.model
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return result.Embeddings, nil
}

func lookupDims(model string) int {
	lower := strings.ToLower(model)
	for family, dims := range modelDims {
		if strings.Contains(lower, family) {
			return dims
		}
	}
	return 0
}
