package anyllm

import (
	"errors"
	"testing"

	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New("local", "ollama", "llama3.2", types.GenerationParams{MaxTokens: 512})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "ollama", "llama3.2", types.GenerationParams{}); err == nil {
		t.Error("empty name should be rejected")
	}
	if _, err := New("local", "ollama", "", types.GenerationParams{}); err == nil {
		t.Error("empty model should be rejected")
	}
	if _, err := New("local", "no-such-backend", "m", types.GenerationParams{}); err == nil {
		t.Error("unknown backend should be rejected")
	}
}

func TestBuildParams(t *testing.T) {
	p := testProvider(t)
	params := p.buildParams(llm.Request{
		Messages: []types.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "Hi"},
		},
		Params: types.GenerationParams{Temperature: 0.3},
	})

	if params.Model != "llama3.2" {
		t.Errorf("model = %q, want llama3.2", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[1].Role != "user" {
		t.Error("message roles must be preserved in order")
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Error("request temperature should be forwarded")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Error("descriptor default max tokens should apply")
	}
}

func TestWrapErr_Classification(t *testing.T) {
	p := testProvider(t)
	tests := []struct {
		msg  string
		want llm.ErrorClass
	}{
		{"request failed: 429 Too Many Requests", llm.ClassRateLimited},
		{"rate limit exceeded", llm.ClassRateLimited},
		{"401 unauthorized", llm.ClassAuth},
		{"missing api key", llm.ClassAuth},
		{"400 invalid request body", llm.ClassInvalid},
		{"connection reset by peer", llm.ClassTransient},
	}
	for _, tt := range tests {
		err := p.wrapErr(errors.New(tt.msg))
		var pe *llm.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("wrapErr(%q) did not produce a ProviderError", tt.msg)
		}
		if pe.Class != tt.want {
			t.Errorf("wrapErr(%q) class = %v, want %v", tt.msg, pe.Class, tt.want)
		}
		if pe.Provider != "local" {
			t.Errorf("wrapErr(%q) provider = %q, want local", tt.msg, pe.Provider)
		}
	}
}
