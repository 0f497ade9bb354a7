package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/aide/pkg/provider/embeddings"
	"github.com/MrWong99/aide/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested kind or name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider kinds to their constructor functions. The launcher
// registers one factory per adapter and instantiates every configured
// provider through it. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[ProviderKind]func(ProviderConfig) (llm.Provider, error)
	embeddings map[string]func(EmbeddingConfig) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[ProviderKind]func(ProviderConfig) (llm.Provider, error)),
		embeddings: make(map[string]func(EmbeddingConfig) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM adapter factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterLLM(kind ProviderKind, factory func(ProviderConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[kind] = factory
}

// RegisterEmbeddings registers an embeddings backend factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(EmbeddingConfig) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates a provider using the factory registered for
// entry.Kind. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that kind.
func (r *Registry) CreateLLM(entry ProviderConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Kind)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings backend using the factory
// registered under entry.Provider.
func (r *Registry) CreateEmbeddings(entry EmbeddingConfig) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Provider)
	}
	return factory(entry)
}
