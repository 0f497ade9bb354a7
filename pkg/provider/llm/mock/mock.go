// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify routing decisions and to feed
// controlled responses without a live backend. Responses can be scripted per
// call, so a test can make the first two attempts fail and the third succeed.
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderName: "fast-remote",
//	    Script: []mock.Result{
//	        {Err: llm.NewError("fast-remote", llm.ClassTransient, 502, errBadGateway)},
//	        {Response: &types.Response{Content: "Hello!"}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// Ensure Provider implements the llm.Provider interface at compile time.
var _ llm.Provider = (*Provider)(nil)

// Result is one scripted outcome for a Generate call.
type Result struct {
	// Response is returned when Err is nil.
	Response *types.Response

	// Err, if non-nil, is returned instead of a response.
	Err error
}

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
//
// Generate consumes Script entries in order; once the script is exhausted
// (or empty) it keeps returning the last entry, or a zero Response when no
// script was set. Configure fields before first use; the call records are
// guarded by an internal mutex and safe to read after concurrent calls.
type Provider struct {
	mu sync.Mutex

	// --- Configuration ---

	// ProviderName is returned by Name and stamped on default responses.
	ProviderName string

	// Model is reported in the descriptor.
	Model string

	// Available is returned by IsAvailable.
	Available bool

	// Script is the ordered sequence of Generate outcomes.
	Script []Result

	// StreamChunks is the sequence emitted on the channel returned by
	// Stream. All chunks are sent before the channel is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from Stream instead of a channel.
	StreamErr error

	// --- Call records (read after test) ---

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []GenerateCall

	scriptPos int
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.ProviderName }

// Descriptor implements llm.Provider.
func (p *Provider) Descriptor() llm.Descriptor {
	return llm.Descriptor{Name: p.ProviderName, Model: p.Model}
}

// IsAvailable implements llm.Provider.
func (p *Provider) IsAvailable() bool { return p.Available }

// Generate implements llm.Provider by returning the next scripted Result.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*types.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})

	if len(p.Script) == 0 {
		return &types.Response{
			Provider: p.ProviderName,
			Model:    p.Model,
			Reason:   types.ReasonComplete,
		}, nil
	}

	r := p.Script[p.scriptPos]
	if p.scriptPos < len(p.Script)-1 {
		p.scriptPos++
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Response, nil
}

// Stream implements llm.Provider by replaying StreamChunks on a channel.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, GenerateCall{Ctx: ctx, Req: req})
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	streamErr := p.StreamErr
	p.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of Generate invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}
